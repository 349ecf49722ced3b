package subcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreimg/qcow2engine/blockdev"
	"github.com/coreimg/qcow2engine/qcow2"
)

type recoverOptions struct {
	filePath   string
	outputFile string
	password   string
}

func newRecoverCmd() *cobra.Command {
	var opts recoverOptions
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "decrypt a legacy AES-encrypted image offline, cluster by cluster, to raw output",
		Long:  "qcow2ctl recover -f filename -o outputfile --password pw",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.filePath, "filename", "f", "", "path of the encrypted image")
	flags.StringVarP(&opts.outputFile, "outputfile", "o", "", "path of the raw plaintext to write")
	flags.StringVar(&opts.password, "password", "", "password protecting the image")
	cmd.MarkFlagRequired("filename")
	cmd.MarkFlagRequired("outputfile")
	cmd.MarkFlagRequired("password")
	return cmd
}

func runRecover(opts recoverOptions) error {
	device, err := openDevice(opts.filePath, false)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.filePath, err)
	}
	defer device.Disconnect()

	header, err := qcow2.ReadHeader(device)
	if err != nil {
		return fmt.Errorf("decode header: %w", err)
	}
	if header.CryptMethod != qcow2.EncryptionAES {
		return fmt.Errorf("qcow2ctl: recover only handles legacy AES images here (crypt_method=%d); LUKS volumes are recovered with qcow2.NewLUKSDecryptor against the raw payload", header.CryptMethod)
	}

	dec, err := qcow2.NewLegacyAESDecryptor(opts.password)
	if err != nil {
		return err
	}

	out, err := os.Create(opts.outputFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", opts.outputFile, err)
	}
	defer out.Close()

	return recoverClusters(device, header, dec, out)
}

func recoverClusters(device blockdev.Device, header *qcow2.Header, dec *qcow2.LegacyAESDecryptor, out *os.File) error {
	clusterSize := header.ClusterSize()
	sectorSize := uint64(device.Info().SectorSize)
	totalBytes := device.Info().SizeSectors * sectorSize
	clusterSectors := clusterSize / sectorSize

	buf := make([]byte, clusterSize)
	for byteOff := uint64(0); byteOff < totalBytes; byteOff += clusterSize {
		n := clusterSize
		if byteOff+n > totalBytes {
			n = totalBytes - byteOff
		}
		if err := device.ReadAt(byteOff/sectorSize, buf[:clusterSectors*sectorSize]); err != nil {
			return fmt.Errorf("read cluster at 0x%x: %w", byteOff, err)
		}
		plaintext, err := dec.DecryptCluster(buf[:n], byteOff/512)
		if err != nil {
			return fmt.Errorf("decrypt cluster at 0x%x: %w", byteOff, err)
		}
		if _, err := out.Write(plaintext); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}
