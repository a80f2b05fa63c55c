// Command msc-cat scans every USB device on the bus for a SCSI/BBB mass
// storage interface, bringing each one up concurrently, and prints a
// one-line summary per logical unit found.
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	usb "github.com/kevmo314/go-usb-msc"
	"github.com/kevmo314/go-usb-msc/msc"
)

type lunSummary struct {
	vendorID, productID uint16
	lun                 int
	capacity, sector    uint32
	writeProtected      bool
}

func main() {
	concurrency := pflag.IntP("j", "j", 4, "number of devices to probe concurrently")
	pflag.Parse()

	devices, err := usb.DeviceList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "msc-cat: list devices: %v\n", err)
		os.Exit(1)
	}

	var (
		mu      sync.Mutex
		results []lunSummary
	)

	var g errgroup.Group
	g.SetLimit(*concurrency)

	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			drive, err := msc.Configure(dev)
			if err != nil {
				// Not a mass storage device, or bring-up failed: skip it,
				// this is not an error for the scan as a whole.
				return nil
			}
			defer drive.Release()

			var found []lunSummary
			for lun := 0; lun < drive.LUNCount(); lun++ {
				if !drive.LUNReady(lun) {
					continue
				}
				found = append(found, lunSummary{
					vendorID:       dev.Descriptor.VendorID,
					productID:      dev.Descriptor.ProductID,
					lun:            lun,
					capacity:       drive.GetCapacity(lun),
					sector:         drive.GetSectorSize(lun),
					writeProtected: drive.WriteProtected(lun),
				})
			}

			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
	}

	// Every device probe swallows its own error above; Wait can only
	// return nil, but its zero-value check stays here so a future
	// per-device error path (e.g. permission failures worth surfacing)
	// has somewhere to report to.
	_ = g.Wait()

	if len(results) == 0 {
		fmt.Println("no ready mass storage logical units found")
		return
	}
	for _, r := range results {
		totalBytes := uint64(r.capacity) * uint64(r.sector)
		wp := ""
		if r.writeProtected {
			wp = " (write protected)"
		}
		fmt.Printf("%04x:%04x lun %d: %d x %d bytes = %.2f GB%s\n",
			r.vendorID, r.productID, r.lun, r.capacity, r.sector,
			float64(totalBytes)/(1<<30), wp)
	}
}
