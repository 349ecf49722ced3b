package subcmd

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreimg/qcow2engine/qcow2"
)

func newInspectCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "decode a header this engine refuses to Connect to, and say why",
		Long:  "qcow2ctl inspect -f filename",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(filePath)
		},
	}
	cmd.Flags().StringVarP(&filePath, "filename", "f", "", "path of the image to inspect")
	cmd.MarkFlagRequired("filename")
	return cmd
}

func runInspect(path string) error {
	device, err := openDevice(path, false)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer device.Disconnect()

	header, err := qcow2.ReadHeader(device)
	if err != nil {
		return fmt.Errorf("decode header: %w", err)
	}

	fmt.Printf("version:          %d\n", header.Version)
	fmt.Printf("cluster_bits:     %d\n", header.ClusterBits)
	fmt.Printf("size:             %d bytes\n", header.Size)
	fmt.Printf("crypt_method:     %d\n", header.CryptMethod)
	fmt.Printf("backing file:     offset=0x%x size=%d\n", header.BackingFileOffset, header.BackingFileSize)

	if err := header.Validate(); err != nil {
		fmt.Printf("this engine would refuse to Connect: %v\n", err)
	} else {
		fmt.Println("this engine would Connect successfully")
	}

	if header.Version >= qcow2.Version3 {
		// A v3 header stores its own length at byte 100; the extension
		// area starts there, not at the end of the 72-byte v2 record.
		headerLength := uint64(qcow2.HeaderSizeV2)
		sector := make([]byte, device.Info().SectorSize)
		if err := device.ReadAt(0, sector); err == nil && len(sector) >= 104 {
			headerLength = uint64(binary.BigEndian.Uint32(sector[100:104]))
		}
		ext, err := qcow2.ParseHeaderExtensions(device, header, headerLength)
		if err != nil {
			fmt.Printf("header extensions: (error: %v)\n", err)
		} else {
			fmt.Printf("backing format:   %q\n", ext.BackingFormat)
			for k, v := range ext.FeatureNames {
				fmt.Printf("feature %s:        %s\n", k, v)
			}
			for _, t := range ext.Unrecognized {
				fmt.Printf("unrecognized extension type: 0x%x\n", t)
			}
			if ext.BitmapDirectory != nil {
				// This core's v2-only Header codec never decodes
				// AutoclearFeatures, so a v3 image's bitmaps are always
				// reported as potentially inconsistent here.
				bitmaps, err := qcow2.ListBitmaps(device, ext.BitmapDirectory, false)
				if err != nil {
					fmt.Printf("bitmaps: (error: %v)\n", err)
				} else {
					fmt.Printf("bitmaps: %d\n", len(bitmaps))
					for _, b := range bitmaps {
						fmt.Printf("  - %q granularity=%d consistent=%v\n", b.Name, b.Granularity, b.IsConsistent)
					}
				}
			}
		}
	}
	return nil
}
