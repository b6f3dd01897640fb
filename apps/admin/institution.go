package main

import (
	"context"
	"fmt"
	"strings"
)

func (cli *commandLine) resetInstitution(name string) error {
	res, err := cli.analysisSvc.Reset(context.Background(), name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted %d entries and %d evaluations\n", res.Entries, res.Evaluations)
	return nil
}

func (cli *commandLine) rebuildStats(name string) error {
	stats, err := cli.analysisSvc.RebuildStats(context.Background(), name)
	if err != nil {
		return err
	}
	fmt.Fprintf(
		cli.out,
		"%s: %d evaluations, average summary %.2f, average tag %.2f\n",
		stats.Institution, stats.TotalEvaluations, stats.AverageSummary(), stats.AverageTag(),
	)
	return nil
}

func (cli *commandLine) snapshot(name string, restore bool) error {
	ctx := context.Background()
	if restore {
		snap, err := cli.analysisSvc.LoadSnapshot(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "restored selection of %s taken at %s: %s\n", snap.Institution, snap.TakenAt.Format("2006-01-02 15:04:05"), strings.Join(snap.Selected, ", "))
		return nil
	}
	snap, err := cli.analysisSvc.TakeSnapshot(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "saved selection of %s: %s\n", snap.Institution, strings.Join(snap.Selected, ", "))
	return nil
}
