package subcmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreimg/qcow2engine/blockdev"
	"github.com/coreimg/qcow2engine/qcow2"
)

type ddOptions struct {
	inputFile  string
	outputFile string
	toQcow2    bool
}

func newDDCmd() *cobra.Command {
	var opts ddOptions
	cmd := &cobra.Command{
		Use:   "dd",
		Short: "copy a raw image into a freshly created qcow2 image, or a qcow2 image out to raw",
		Long:  "qcow2ctl dd -i inputfile -o outputfile [--to-qcow2]",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.toQcow2 {
				return ddRawToQcow2(opts.inputFile, opts.outputFile)
			}
			return ddQcow2ToRaw(opts.inputFile, opts.outputFile)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.inputFile, "inputfile", "i", "", "source file")
	flags.StringVarP(&opts.outputFile, "outputfile", "o", "", "destination file")
	flags.BoolVar(&opts.toQcow2, "to-qcow2", false, "input is raw, output is a new qcow2 image (default: input is qcow2, output is raw)")
	cmd.MarkFlagRequired("inputfile")
	cmd.MarkFlagRequired("outputfile")
	return cmd
}

const ddBlockSectors = 128 // 64 KiB per chunk at the 512-byte virtual sector size

func ddRawToQcow2(inputFile, outputFile string) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return fmt.Errorf("open %s: %w", inputFile, err)
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}
	size := uint64(fi.Size())
	if rem := size % qcow2.VirtualSectorSize; rem != 0 {
		size += qcow2.VirtualSectorSize - rem
	}

	outDevice, err := blockdev.OpenFile(outputFile, true, true)
	if err != nil {
		return fmt.Errorf("open %s: %w", outputFile, err)
	}
	engine, err := qcow2.Create(outDevice, qcow2.CreateOptions{Size: size})
	if err != nil {
		outDevice.Disconnect()
		return fmt.Errorf("create %s: %w", outputFile, err)
	}
	defer engine.Disconnect()

	buf := make([]byte, ddBlockSectors*qcow2.VirtualSectorSize)
	var sector uint64
	for {
		n, readErr := io.ReadFull(in, buf)
		if n > 0 {
			chunk := buf[:n]
			if rem := len(chunk) % qcow2.VirtualSectorSize; rem != 0 {
				padded := make([]byte, len(chunk)+qcow2.VirtualSectorSize-rem)
				copy(padded, chunk)
				chunk = padded
			}
			if err := engine.Write(sector, chunk); err != nil {
				return fmt.Errorf("write at sector %d: %w", sector, err)
			}
			sector += uint64(len(chunk)) / qcow2.VirtualSectorSize
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", inputFile, readErr)
		}
	}
	fmt.Printf("wrote %d bytes from %s to %s\n", size, inputFile, outputFile)
	return nil
}

func ddQcow2ToRaw(inputFile, outputFile string) error {
	inDevice, err := openDevice(inputFile, false)
	if err != nil {
		return fmt.Errorf("open %s: %w", inputFile, err)
	}
	defer inDevice.Disconnect()

	engine, err := qcow2.Connect(inDevice)
	if err != nil {
		return fmt.Errorf("connect %s: %w", inputFile, err)
	}
	defer engine.Disconnect()

	out, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputFile, err)
	}
	defer out.Close()

	info := engine.GetInfo()
	buf := make([]byte, ddBlockSectors*qcow2.VirtualSectorSize)
	for sector := uint64(0); sector < info.Sectors; sector += ddBlockSectors {
		n := uint64(ddBlockSectors)
		if sector+n > info.Sectors {
			n = info.Sectors - sector
		}
		chunk := buf[:n*qcow2.VirtualSectorSize]
		if err := engine.Read(sector, chunk); err != nil {
			return fmt.Errorf("read at sector %d: %w", sector, err)
		}
		if _, err := out.Write(chunk); err != nil {
			return fmt.Errorf("write %s: %w", outputFile, err)
		}
	}
	fmt.Printf("wrote %d bytes from %s to %s\n", info.Sectors*qcow2.VirtualSectorSize, inputFile, outputFile)
	return nil
}
