package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"PenPal/sdk/go/penpal"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "PenPal API base URL")
	flag.Parse()

	client, err := penpal.NewClient(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	plugins, err := client.ListPlugins(ctx, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, p := range plugins {
		status := "pending"
		if p.Loaded {
			status = "loaded"
		}
		fmt.Printf("%-32s %s\n", p.Key, status)
	}

	snap, err := client.LatestSnapshot(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Printf("snapshot %s taken %s with %d plugins\n", snap.ID, snap.TakenAt.Format(time.RFC3339), len(snap.Plugins))
}
