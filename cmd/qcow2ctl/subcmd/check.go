package subcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreimg/qcow2engine/qcow2"
)

func newCheckCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "verify an image's refcounts and pointers for consistency",
		Long:  "qcow2ctl check -f filename",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(filePath)
		},
	}
	cmd.Flags().StringVarP(&filePath, "filename", "f", "", "path of the image to check")
	cmd.MarkFlagRequired("filename")
	return cmd
}

func runCheck(path string) error {
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

	result, err := engine.Check()
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}

	fmt.Printf("allocated clusters:  %d\n", result.AllocatedClusters)
	fmt.Printf("referenced clusters: %d\n", result.ReferencedClusters)
	fmt.Printf("leaked clusters:     %d (%d bytes)\n", result.Leaks, result.LeakedClusters)
	fmt.Printf("corruptions:         %d\n", result.Corruptions)
	for _, e := range result.Errors {
		fmt.Printf("  - %s\n", e)
	}
	if !result.IsClean() {
		return fmt.Errorf("%s is not clean", path)
	}
	fmt.Println("image is consistent")
	return nil
}
