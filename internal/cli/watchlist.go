package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/staging"
	"ibkr-dashboard/internal/watchlist"
)

func newWatchlistCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watchlist",
		Aliases: []string{"wl"},
		Short:   "Manage watchlists",
		Long:    "Create, view and edit watchlists, and bulk-import symbols from CSV files.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if root := cmd.Root(); root.PersistentPreRunE != nil {
				if err := root.PersistentPreRunE(cmd, args); err != nil {
					return err
				}
			}
			return app.Setup(cmd.Context())
		},
	}

	cmd.AddCommand(newWatchlistListCmd(app))
	cmd.AddCommand(newWatchlistCreateCmd(app))
	cmd.AddCommand(newWatchlistDeleteCmd(app))
	cmd.AddCommand(newWatchlistAddCmd(app))
	cmd.AddCommand(newWatchlistRemoveCmd(app))
	cmd.AddCommand(newWatchlistImportCmd(app))
	cmd.AddCommand(newWatchlistExportCmd(app))

	return cmd
}

func newWatchlistListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [name]",
		Short: "Show watchlists with current prices",
		Example: `  dashboard watchlist list
  dashboard watchlist list Tech --sort-by price --price-min 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			opts, err := watchlist.ParseListOptions(func(key string) string {
				v, _ := cmd.Flags().GetString(strings.ReplaceAll(key, "_", "-"))
				return v
			})
			if err != nil {
				return err
			}

			var lists []models.Watchlist
			if len(args) == 1 {
				w, err := app.Watchlists.Get(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				lists = []models.Watchlist{w}
			} else {
				lists, err = app.Watchlists.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(lists)
			}
			if len(lists) == 0 {
				output.Dim("No watchlists yet. Create one with 'dashboard watchlist create <name>'.")
				return nil
			}
			for i, w := range lists {
				if i > 0 {
					output.Println()
				}
				renderWatchlist(output, w)
			}
			return nil
		},
	}

	cmd.Flags().String("sort-by", "", "sort field (symbol, price, price_change_pct, volume, ...)")
	cmd.Flags().String("price-min", "", "minimum price")
	cmd.Flags().String("price-max", "", "maximum price")
	cmd.Flags().String("change-min", "", "minimum change %")
	cmd.Flags().String("change-max", "", "maximum change %")
	return cmd
}

func renderWatchlist(output *Output, w models.Watchlist) {
	output.Bold("%s (%d)", w.Name, len(w.Instruments))
	if len(w.Instruments) == 0 {
		output.Dim("  empty")
		return
	}

	table := NewTable(output, "SYMBOL", "CONID", "COMPANY", "PRICE", "CHANGE", "CHANGE %", "VOLUME", "UPDATED")
	for _, inst := range w.Instruments {
		table.AddRow(
			inst.Symbol,
			inst.Conid.String(),
			TruncateString(inst.CompanyName, 28),
			FormatPrice(inst.Price),
			output.Signed(inst.PriceChange, FormatChange(inst.PriceChange)),
			output.Signed(inst.PriceChangePct, FormatPercent(inst.PriceChangePct)),
			FormatVolume(inst.Volume),
			FormatTime(inst.LastUpdate),
		)
	}
	table.Render()
}

func newWatchlistCreateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			name := strings.TrimSpace(args[0])
			if err := app.Watchlists.Create(cmd.Context(), name); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"created": name})
			}
			output.Success("Created watchlist %s", name)
			return nil
		},
	}
}

func newWatchlistDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Watchlists.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": args[0]})
			}
			output.Success("Deleted watchlist %s", args[0])
			return nil
		},
	}
}

func newWatchlistAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <watchlist> <symbol>",
		Short: "Look up a symbol on the gateway and add it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			name, symbol := args[0], strings.ToUpper(strings.TrimSpace(args[1]))

			ok, err := app.Watchlists.Exists(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", name, apperrors.ErrWatchlistNotFound)
			}

			inst, err := app.Gateway.Resolve(ctx, symbol)
			if err != nil {
				return err
			}
			added, err := app.Watchlists.Add(ctx, name, inst)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"added": added, "instrument": inst})
			}
			if !added {
				output.Warning("%s (%s) is already in %s", inst.Symbol, inst.Conid, name)
				return nil
			}
			output.Success("Added %s (%s) to %s", inst.Symbol, inst.Conid, name)
			return nil
		},
	}
}

func newWatchlistRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <watchlist> <conid>",
		Short: "Remove an instrument by contract id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			removed, err := app.Watchlists.Remove(cmd.Context(), args[0], models.Conid(args[1]))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"removed": removed})
			}
			if removed == 0 {
				output.Warning("No instrument with conid %s in %s", args[1], args[0])
				return nil
			}
			output.Success("Removed %s from %s", args[1], args[0])
			return nil
		},
	}
}

func newWatchlistImportCmd(app *App) *cobra.Command {
	var (
		all      bool
		selected []string
		replace  bool
	)

	cmd := &cobra.Command{
		Use:   "import <watchlist> <file.csv>",
		Short: "Resolve symbols from a CSV file and add them",
		Long: `Extract symbols from a CSV file, resolve each one on the gateway and
show the result. Nothing is added unless --all or --select is given.`,
		Example: `  dashboard watchlist import Tech picks.csv
  dashboard watchlist import Tech picks.csv --all
  dashboard watchlist import Tech picks.csv --select 265598,272093
  dashboard watchlist import Tech picks.csv --all --replace`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)
			name, path := args[0], args[1]

			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			text, err := staging.ValidateUpload(filepath.Base(path), content)
			if err != nil {
				return err
			}

			session := uuid.NewString()
			batch, err := app.Staging.Stage(ctx, session, name, text)
			if err != nil {
				if batch != nil && !output.IsJSON() {
					renderFailures(output, batch.Failed)
				}
				return err
			}
			defer app.Staging.Discard(ctx, session)

			var conids []models.Conid
			switch {
			case all:
				for _, inst := range batch.Successful {
					conids = append(conids, inst.Conid)
				}
			case len(selected) > 0:
				for _, id := range selected {
					conids = append(conids, models.Conid(strings.TrimSpace(id)))
				}
			default:
				if output.IsJSON() {
					return output.JSON(batch)
				}
				renderBatch(output, batch)
				output.Println()
				output.Info("Nothing added. Re-run with --all or --select <conid,...> to confirm.")
				return nil
			}

			if replace {
				picked := pick(batch.Successful, conids)
				if err := app.Watchlists.Replace(ctx, name, picked); err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"watchlist": name, "replaced": len(picked), "failed_symbols": batch.Failed})
				}
				renderFailures(output, batch.Failed)
				output.Success("Replaced %s with %d instruments", name, len(picked))
				return nil
			}

			res, err := app.Staging.Confirm(ctx, session, name, conids)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"result": res, "failed_symbols": batch.Failed})
			}
			renderFailures(output, batch.Failed)
			output.Success("Added %d of %d selected instruments to %s", res.Added, res.Selected, name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "add every resolved symbol")
	cmd.Flags().StringSliceVar(&selected, "select", nil, "conids to add")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the watchlist contents instead of appending")
	cmd.MarkFlagsMutuallyExclusive("all", "select")
	return cmd
}

func pick(candidates []models.Instrument, conids []models.Conid) []models.Instrument {
	want := make(map[models.Conid]bool, len(conids))
	for _, id := range conids {
		want[id] = true
	}
	var out []models.Instrument
	for _, inst := range candidates {
		if want[inst.Conid] {
			out = append(out, inst)
		}
	}
	return out
}

func renderBatch(output *Output, batch *models.StagingBatch) {
	output.Bold("Resolved for %s (%d)", batch.WatchlistName, len(batch.Successful))
	table := NewTable(output, "SYMBOL", "CONID", "COMPANY", "DESCRIPTION")
	for _, inst := range batch.Successful {
		table.AddRow(inst.Symbol, inst.Conid.String(), TruncateString(inst.CompanyName, 28), inst.Description)
	}
	table.Render()
	renderFailures(output, batch.Failed)
}

func renderFailures(output *Output, failed []models.FailedSymbol) {
	if len(failed) == 0 {
		return
	}
	output.Println()
	output.Warning("Not resolved (%d)", len(failed))
	for _, f := range failed {
		output.Printf("  %-10s %s\n", f.Symbol, f.Reason)
	}
}

type exportRow struct {
	Symbol         string `csv:"symbol"`
	Conid          string `csv:"conid"`
	CompanyName    string `csv:"company_name"`
	Description    string `csv:"description"`
	Price          string `csv:"price"`
	PriceChangePct string `csv:"price_change_pct"`
}

func optional(p *float64) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *p)
}

func newWatchlistExportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <watchlist> [file.csv]",
		Short: "Write a watchlist as CSV",
		Long:  "Write a watchlist as CSV with a symbol header, suitable for 'watchlist import'.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.Watchlists.Get(cmd.Context(), args[0], watchlist.ListOptions{})
			if err != nil {
				return err
			}

			rows := make([]*exportRow, 0, len(w.Instruments))
			for _, inst := range w.Instruments {
				rows = append(rows, &exportRow{
					Symbol:         inst.Symbol,
					Conid:          inst.Conid.String(),
					CompanyName:    inst.CompanyName,
					Description:    inst.Description,
					Price:          optional(inst.Price),
					PriceChangePct: optional(inst.PriceChangePct),
				})
			}

			if len(args) == 1 {
				return gocsv.Marshal(rows, cmd.OutOrStdout())
			}

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := gocsv.Marshal(rows, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			NewOutput(cmd).Success("Wrote %d instruments to %s", len(rows), args[1])
			return nil
		},
	}
}
