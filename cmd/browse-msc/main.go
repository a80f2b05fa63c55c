// Command browse-msc opens a USB mass-storage device, brings up its logical
// units through the msc driver, and prints a summary of what it found:
// capacity, write-protect state, and a hexdump of the boot sector if a
// readable LUN is present.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/spf13/pflag"

	usb "github.com/kevmo314/go-usb-msc"
	"github.com/kevmo314/go-usb-msc/msc"
)

func main() {
	var (
		vendorID    = pflag.StringP("vid", "v", "0781", "USB vendor ID in hex")
		productID   = pflag.StringP("pid", "p", "5581", "USB product ID in hex")
		listDevices = pflag.BoolP("list", "l", false, "list mass storage devices and exit")
		verbose     = pflag.BoolP("verbose", "V", false, "log driver bring-up and recovery events")
	)
	pflag.Parse()

	logger := log.NewNopLogger()
	if *verbose {
		logger = log.NewLogfmtLogger(os.Stderr)
	}

	if *listDevices {
		listMassStorageDevices()
		return
	}

	var vid, pid uint16
	if _, err := fmt.Sscanf(*vendorID, "%x", &vid); err != nil {
		fatalf("invalid vendor id %q: %v", *vendorID, err)
	}
	if _, err := fmt.Sscanf(*productID, "%x", &pid); err != nil {
		fatalf("invalid product id %q: %v", *productID, err)
	}

	dev, err := findDevice(vid, pid)
	if err != nil {
		fatalf("find device %04x:%04x: %v", vid, pid, err)
	}

	drive, err := msc.Configure(dev, msc.WithLogger(logger))
	if err != nil {
		fatalf("configure mass storage device: %v", err)
	}
	defer drive.Release()

	fmt.Printf("device %04x:%04x, %d logical unit(s)\n", vid, pid, drive.LUNCount())

	for lun := 0; lun < drive.LUNCount(); lun++ {
		fmt.Printf("\nLUN %d:\n", lun)
		if !drive.LUNReady(lun) {
			fmt.Println("  not ready (no media, or bring-up failed)")
			continue
		}

		capacity := drive.GetCapacity(lun)
		sectorSize := drive.GetSectorSize(lun)
		totalBytes := uint64(capacity) * uint64(sectorSize)
		fmt.Printf("  capacity: %d blocks x %d bytes = %.2f GB\n", capacity, sectorSize, float64(totalBytes)/(1<<30))
		fmt.Printf("  write protected: %v\n", drive.WriteProtected(lun))

		buf := make([]byte, sectorSize)
		if err := drive.Read(context.Background(), lun, 0, 1, buf); err != nil {
			fmt.Printf("  failed to read block 0: %v\n", err)
			continue
		}

		fmt.Println("  first 512 bytes of block 0:")
		hexdump(buf[:min(512, len(buf))])

		if len(buf) >= 512 && buf[510] == 0x55 && buf[511] == 0xAA {
			fmt.Println("  valid MBR signature (0x55AA)")
			printPartitionTable(buf)
		}
	}
}

func findDevice(vid, pid uint16) (*usb.Device, error) {
	devices, err := usb.DeviceList()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Descriptor.VendorID == vid && d.Descriptor.ProductID == pid {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no matching device on the bus")
}

func printPartitionTable(mbr []byte) {
	fmt.Println("  partition table:")
	for i := 0; i < 4; i++ {
		offset := 446 + i*16
		if mbr[offset+4] == 0 {
			continue
		}
		startLBA := uint32(mbr[offset+8]) | uint32(mbr[offset+9])<<8 | uint32(mbr[offset+10])<<16 | uint32(mbr[offset+11])<<24
		fmt.Printf("    partition %d: type=0x%02x start_lba=%d\n", i+1, mbr[offset+4], startLBA)
	}
}

func hexdump(data []byte) {
	for i := 0; i < len(data); i += 16 {
		fmt.Printf("%08x  ", i)
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				fmt.Printf("%02x ", data[i+j])
			} else {
				fmt.Print("   ")
			}
			if j == 7 {
				fmt.Print(" ")
			}
		}
		fmt.Print(" |")
		for j := 0; j < 16 && i+j < len(data); j++ {
			c := data[i+j]
			if c >= 32 && c < 127 {
				fmt.Printf("%c", c)
			} else {
				fmt.Print(".")
			}
		}
		fmt.Println("|")
	}
}

func listMassStorageDevices() {
	devices, err := usb.DeviceList()
	if err != nil {
		fatalf("list devices: %v", err)
	}

	found := false
	for _, device := range devices {
		drive, err := msc.Configure(device)
		if err != nil {
			continue
		}
		found = true
		fmt.Printf("device VID=%04x PID=%04x, %d logical unit(s)\n",
			device.Descriptor.VendorID, device.Descriptor.ProductID, drive.LUNCount())
		drive.Release()
	}

	if !found {
		fmt.Println("no USB mass storage devices found")
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
