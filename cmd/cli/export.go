package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/souqnear/ranking-service/internal/export"
	"github.com/souqnear/ranking-service/internal/storage"
)

var (
	exportPointID string
	exportMarket  string
	exportFormat  string
	exportPath    string

	pruneOlderThan time.Duration
	pruneDryRun    bool
	fetchOut       string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ranked sets of a reference point",
	Long: `Write every ranked set of a reference point and market to the export
archive, as an xlsx workbook (ranked offers and thresholds sheets) or JSON.`,
	Example: `  ranking-service export --reference-point rp1 --market casa
  ranking-service export --reference-point rp1 --market casa --format json --path /tmp/exports`,
	RunE: runExport,
}

var exportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived exports",
	Example: `  ranking-service export list
  ranking-service export list --reference-point rp1`,
	RunE: runExportList,
}

var exportFetchCmd = &cobra.Command{
	Use:   "fetch <key>",
	Short: "Copy an archived export out of the archive",
	Args:  cobra.ExactArgs(1),
	Example: `  ranking-service export fetch exports/2026-02-03/rp1/casa-040506.xlsx --out rp1.xlsx`,
	RunE: runExportFetch,
}

var exportPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived exports older than a given age",
	Example: `  ranking-service export prune --older-than 720h
  ranking-service export prune --older-than 168h --dry-run`,
	RunE: runExportPrune,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportListCmd, exportFetchCmd, exportPruneCmd)

	exportCmd.PersistentFlags().StringVar(&exportPath, "path", "", "Archive directory (defaults to export.base_path)")
	exportCmd.Flags().StringVar(&exportPointID, "reference-point", "", "Reference point ID")
	exportCmd.Flags().StringVar(&exportMarket, "market", "", "Market ID")
	exportCmd.Flags().StringVar(&exportFormat, "format", export.FormatXLSX, "Output format (xlsx or json)")
	_ = exportCmd.MarkFlagRequired("reference-point")
	_ = exportCmd.MarkFlagRequired("market")

	exportListCmd.Flags().StringVar(&exportPointID, "reference-point", "", "Only list exports of this reference point")

	exportFetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "Output file (defaults to stdout)")

	exportPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Delete exports generated before now minus this age")
	exportPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Print what would be deleted without deleting")
}

func openArchive() (*storage.LocalStorage, error) {
	basePath := exportPath
	if basePath == "" {
		basePath = cfg.Export.BasePath
	}
	return storage.NewLocalStorage(basePath)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	archive, err := openArchive()
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := export.NewExporter(a.Store, archive).Export(ctx, exportPointID, exportMarket, exportFormat)
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %s/%s (%d ranked sets, %d offers, %d bytes)\n",
		archive.BasePath(), result.Key, result.RankedSets, result.Offers, result.Size)
	return nil
}

// Archive subcommands never touch the ranking store.

func runExportList(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}

	infos, err := export.NewExporter(nil, archive).List(context.Background(), exportPointID)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No exports found")
		return nil
	}
	for _, info := range infos {
		sets := 0
		if info.Metadata != nil {
			sets = info.Metadata.RankedSets
		}
		fmt.Printf("%-60s %10d bytes  %4d sets  %s\n",
			info.Key, info.Size, sets, info.ModifiedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runExportFetch(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}

	content, info, err := export.NewExporter(nil, archive).Fetch(context.Background(), args[0])
	if err != nil {
		return err
	}
	if fetchOut == "" {
		_, err = os.Stdout.Write(content)
		return err
	}
	if err := os.WriteFile(fetchOut, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", fetchOut, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes, sha256 %s)\n", fetchOut, info.Size, info.Checksum)
	return nil
}

func runExportPrune(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}

	pruned, err := export.NewExporter(nil, archive).Prune(context.Background(), pruneOlderThan, pruneDryRun)
	if err != nil {
		return err
	}
	verb := "Deleted"
	if pruneDryRun {
		verb = "Would delete"
	}
	for _, key := range pruned {
		fmt.Printf("%s %s\n", verb, key)
	}
	fmt.Printf("%s %d exports older than %s\n", verb, len(pruned), pruneOlderThan)
	return nil
}
