package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/orbit/ephgo/internal/geo"
	"github.com/orbit/ephgo/internal/oem"
	"github.com/orbit/ephgo/internal/query"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	var data []byte
	var source string
	var err error

	if len(os.Args) > 1 {
		source = os.Args[1]
		data, err = os.ReadFile(source)
		if err != nil {
			fmt.Println("ERROR reading OEM file:", err)
			os.Exit(1)
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fetcher := oem.NewFetcher(os.Getenv("EPHGO_FEED_URL"), 30*time.Second, logger)
		source = fetcher.FeedURL()
		data, err = fetcher.Fetch(ctx)
		if err != nil {
			fmt.Println("ERROR fetching feed:", err)
			os.Exit(1)
		}
	}

	vectors, err := oem.Parse(bytes.NewReader(data), logger)
	if err != nil {
		fmt.Println("ERROR parsing OEM:", err)
		os.Exit(1)
	}
	ds := oem.NewDataset(source, time.Now().UTC(), vectors)
	fmt.Printf("Loaded %d state vectors from %s\n", len(ds.Vectors), source)

	rng, span, err := query.Range(ds)
	if err != nil {
		fmt.Println("ERROR computing range:", err)
		os.Exit(1)
	}
	fmt.Printf("Epoch range: %s .. %s (span %.1fh)\n",
		oem.FormatEpoch(rng.First), oem.FormatEpoch(rng.Last), span.Hours())

	now := time.Now().UTC()
	sv, err := query.Closest(ds, now)
	if err != nil {
		fmt.Println("ERROR finding closest epoch:", err)
		os.Exit(1)
	}
	fmt.Printf("Closest epoch to now: %s\n", oem.FormatEpoch(sv.Epoch))
	fmt.Printf("  position: x=%.3f y=%.3f z=%.3f km\n", sv.X, sv.Y, sv.Z)
	fmt.Printf("  velocity: x_dot=%.6f y_dot=%.6f z_dot=%.6f km/s\n", sv.XDot, sv.YDot, sv.ZDot)
	fmt.Printf("  speed: %.6f km/s\n", query.Speed(sv.XDot, sv.YDot, sv.ZDot))

	if loc, err := geo.Resolve(sv); err != nil {
		fmt.Println("  location: conversion failed:", err)
	} else {
		fmt.Printf("  location: lat=%.4f° lon=%.4f° alt=%.1f km\n",
			loc.Latitude, loc.Longitude, loc.Altitude)
	}

	avg, err := query.AvgSpeed(ds)
	if err != nil {
		fmt.Println("ERROR computing average speed:", err)
		os.Exit(1)
	}
	fmt.Printf("Average speed over dataset: %.6f km/s\n", avg)
}
