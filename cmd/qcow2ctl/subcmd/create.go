package subcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreimg/qcow2engine/blockdev"
	"github.com/coreimg/qcow2engine/qcow2"
)

type createOptions struct {
	filePath    string
	size        string
	clusterBits uint32
}

func newCreateCmd() *cobra.Command {
	var opts createOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a new qcow2 image",
		Long:  "qcow2ctl create -f filename -s size",
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(opts.size)
			if err != nil {
				return err
			}
			return createImage(opts.filePath, size, opts.clusterBits)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.filePath, "filename", "f", "", "path of the image to create")
	flags.StringVarP(&opts.size, "size", "s", "", "virtual disk size, e.g. 64m, 4g")
	flags.Uint32Var(&opts.clusterBits, "cluster-bits", 0, "override the default cluster size (log2 bytes); 0 uses the engine default")
	cmd.MarkFlagRequired("filename")
	cmd.MarkFlagRequired("size")
	return cmd
}

func createImage(path string, size uint64, clusterBits uint32) error {
	device, err := blockdev.OpenFile(path, true, true)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	engine, err := qcow2.Create(device, qcow2.CreateOptions{Size: size, ClusterBits: clusterBits})
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer engine.Disconnect()

	fmt.Printf("created %s: %d bytes, image id %s\n", path, size, qcow2.NewImageID())
	return nil
}
