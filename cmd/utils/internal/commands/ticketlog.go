package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/appetiteclub/edge/internal/ticketlog"
	"github.com/aquamarinepk/aqm"
)

// TicketLog prints the most recent ticket log entries, optionally for one
// table.
func TicketLog(ctx context.Context, config *aqm.Config, logger aqm.Logger, out io.Writer) error {
	storage, err := openStorage(ctx, config, logger)
	if err != nil {
		return err
	}
	defer storage.Stop(ctx)

	area, _ := config.GetString("area")
	table, _ := config.GetString("table")
	entries, err := storage.Log.List(ctx, ticketlog.Filter{Area: area, Table: table, Limit: 50})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tKIND\tAREA\tTABLE\tKEY")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Area, e.Table, e.IdempotencyKey)
	}
	return w.Flush()
}
