package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sweeney/asterisk-callflow/internal/ami"
	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/reporter"
)

func newReplayCmd() *cobra.Command {
	var (
		asJSON bool
		events []string
	)
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Correlate a recorded AMI log and print the call events",
		Long: `Replay reads a raw AMI capture or a JSON array of events and prints the
call events the engine reports for it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replay(cmd.Context(), cmd.OutOrStdout(), args[0], asJSON, events)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON")
	cmd.Flags().StringSliceVar(&events, "events", nil, "AMI event types to process (default: all the engine handles)")
	return cmd
}

func replay(ctx context.Context, out io.Writer, path string, asJSON bool, events []string) error {
	src, err := ami.OpenFile(path)
	if err != nil {
		return err
	}
	defer src.Close()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	opts := []correlator.Option{correlator.WithMeterProvider(mp)}
	if len(events) > 0 {
		opts = append(opts, correlator.WithFilter(correlator.NewFilter(events...)))
	}

	rec := reporter.NewRecorder()
	engine := correlator.New(reporter.Adapt(rec), opts...)
	if err := engine.Run(ctx, src); err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec.Events())
	}

	printEvents(out, rec.Events())

	totals, err := metricTotals(ctx, reader)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d AMI events processed, %d call events, %d correlation gaps\n",
		totals[correlator.MetricProcessed], totals[correlator.MetricEmitted], totals[correlator.MetricGaps])
	if ids := engine.Registry().CallIDs(); len(ids) > 0 {
		color.New(color.FgYellow).Fprintf(out, "calls still open at end of log: %s\n", strings.Join(ids, ", "))
	}
	return nil
}

var kindColors = map[string]color.Attribute{
	correlator.KindDial:         color.FgCyan,
	correlator.KindUp:           color.FgGreen,
	correlator.KindWarmTransfer: color.FgYellow,
	correlator.KindColdTransfer: color.FgMagenta,
	correlator.KindHangup:       color.FgRed,
}

func printEvents(out io.Writer, events []reporter.Event) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Event", "Call", "Merged", "Caller", "Redirector", "Party", "Dialed", "Reason"})
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for i, evt := range events {
		kind := color.New(kindColors[evt.Kind]).Sprint(evt.Kind)
		redirector := ""
		if evt.Redirector != nil {
			redirector = evt.Redirector.String()
		}
		table.Append([]string{
			strconv.Itoa(i + 1),
			kind,
			evt.CallID,
			evt.MergedCallID,
			evt.Caller.String(),
			redirector,
			partyColumn(evt),
			evt.DialedNumber,
			evt.Reason,
		})
	}
	table.Render()
}

// partyColumn shows the callee, or the target codes for dial rounds.
func partyColumn(evt reporter.Event) string {
	if evt.Callee != nil {
		return evt.Callee.String()
	}
	codes := make([]string, len(evt.Targets))
	for i, t := range evt.Targets {
		codes[i] = t.Code
	}
	return strings.Join(codes, ", ")
}

// metricTotals sums every Int64 counter the reader has seen, by name.
func metricTotals(ctx context.Context, reader *sdkmetric.ManualReader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals, nil
}
