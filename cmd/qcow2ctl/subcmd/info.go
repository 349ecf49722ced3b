package subcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreimg/qcow2engine/qcow2"
)

type infoOptions struct {
	filePath string
}

func newInfoCmd() *cobra.Command {
	var opts infoOptions
	cmd := &cobra.Command{
		Use:   "info",
		Short: "print the header fields of a qcow2 image",
		Long:  "qcow2ctl info -f filename",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printInfo(opts.filePath)
		},
	}
	cmd.Flags().StringVarP(&opts.filePath, "filename", "f", "", "path of the image to inspect")
	cmd.MarkFlagRequired("filename")
	return cmd
}

func printInfo(path string) error {
	device, err := openDevice(path, false)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer device.Disconnect()

	engine, err := qcow2.Connect(device)
	if err != nil {
		return fmt.Errorf("connect %s: %w", path, err)
	}
	defer engine.Disconnect()

	h := engine.Header()
	info := engine.GetInfo()
	fmt.Printf("virtual size:       %d bytes\n", h.Size)
	fmt.Printf("cluster size:       %d bytes\n", h.ClusterSize())
	fmt.Printf("L1 size:            %d entries\n", h.L1Size)
	fmt.Printf("refcount clusters:  %d\n", h.RefcountTableClusters)
	fmt.Printf("sector size:        %d bytes\n", info.SectorSize)
	fmt.Printf("read-write:         %v\n", info.ReadWrite)

	snaps, err := engine.ListSnapshots()
	if err != nil {
		fmt.Printf("snapshots:          (error: %v)\n", err)
	} else {
		fmt.Printf("snapshots:          %d\n", len(snaps))
		for _, s := range snaps {
			fmt.Printf("  - %s %q created %s\n", s.ID, s.Name, s.Date.Format("2006-01-02T15:04:05"))
		}
	}
	return nil
}
