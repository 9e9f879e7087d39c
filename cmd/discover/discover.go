// Command discover lists Cast receivers on the local network via mDNS, a
// thin standalone entry point over the discovery package that castctl's
// "discover" command also uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/castlink/gocast/discovery"
)

func main() {
	os.Exit(run())
}

func run() int {
	timeout := flag.Duration("timeout", 5*time.Second, "how long to listen for mDNS responses")
	ipv6 := flag.Bool("6", false, "also query over IPv6 and prefer IPv6 addresses")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client := discovery.NewClient(discovery.Config{UseIPv6: *ipv6, QueryTimeout: *timeout}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	devices, err := client.Browse(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no devices found")
		return 0
	}
	for _, d := range devices {
		fmt.Printf("%s (%s) at %s:%d [id=%s]\n", d.FriendlyName, d.ModelName, d.Address, d.Port, d.ID)
	}
	return 0
}
