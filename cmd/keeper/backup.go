package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilologistics/keeper"
	"github.com/wilologistics/keeper/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, restore and prune backups",
}

var (
	backupType   string
	description  string
	restoreType  string
	outputJSON   bool
	showProgress bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup archive",
	Long: `Create a backup archive in the backup directory.

Types:
  full           tables, config files, data folder, recent logs (and images if enabled)
  database_only  tables only
  incremental    currently captures the same set as full`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup archives, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [ARCHIVE]",
	Short: "Restore tables and/or config files from an archive",
	Long: `Restore an archive by file name (looked up in the backup directory) or path.

Types:
  full           tables and config files
  database_only  tables only
  configs_only   config files only

The data folder, logs and images are never written back.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show backup directory statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archives beyond the retention policy",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	createCmd.Flags().StringVarP(&backupType, "type", "t", string(backup.TypeFull), "backup type: full, incremental, database_only")
	createCmd.Flags().StringVarP(&description, "description", "m", "", "short description added to the archive name")
	createCmd.Flags().BoolVar(&showProgress, "progress", true, "print progress")
	restoreCmd.Flags().StringVarP(&restoreType, "type", "t", string(backup.RestoreFull), "restore type: full, database_only, configs_only")
	for _, c := range []*cobra.Command{listCmd, statsCmd, restoreCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "output result as JSON")
	}

	backupCmd.AddCommand(createCmd, listCmd, restoreCmd, statsCmd, pruneCmd)
	rootCmd.AddCommand(backupCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	typ, err := backup.ParseType(backupType)
	if err != nil {
		return err
	}
	ctx, cancel := exitOnSignalContext()
	defer cancel()

	var opts []keeper.Option
	if showProgress {
		opts = append(opts, keeper.WithProgress(backup.WriterProgressFunc(cmd.OutOrStdout())))
	}
	k, _, err := openKeeper(ctx, opts...)
	if err != nil {
		return err
	}
	defer k.Close()

	path, err := k.Backups().Create(ctx, typ, description)
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s\n", path)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, _, err := openKeeper(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	infos, err := k.Backups().List(ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd, infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No backups found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tTYPE\tSIZE\tCREATED\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.Filename,
			info.Type,
			backup.FormatBytes(info.SizeBytes),
			info.Created.Local().Format(time.DateTime),
			info.Description,
		)
	}
	return w.Flush()
}

func runRestore(cmd *cobra.Command, args []string) error {
	rt, err := backup.ParseRestoreType(restoreType)
	if err != nil {
		return err
	}
	ctx, cancel := exitOnSignalContext()
	defer cancel()

	k, _, err := openKeeper(ctx, keeper.WithProgress(backup.WriterProgressFunc(cmd.ErrOrStderr())))
	if err != nil {
		return err
	}
	defer k.Close()

	res, err := k.Restore(ctx, args[0], rt)
	if err != nil {
		return fmt.Errorf("restoring %s: %w", args[0], err)
	}
	if outputJSON {
		return writeJSON(cmd, res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Restored backup %s\n", res.BackupID)
	fmt.Fprintf(out, "  Tables: %d (%d rows)\n", res.TablesRestored, res.RowsRestored)
	fmt.Fprintf(out, "  Files:  %d\n", res.FilesRestored)
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  Failed: %s\n", f)
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d items failed to restore", len(res.Failures))
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, _, err := openKeeper(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	s, err := k.Backups().Stats(ctx)
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd, s)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backup directory: %s\n", s.BackupDir)
	fmt.Fprintf(out, "Backups:          %d (max %d, retention %d days)\n", s.TotalBackups, s.MaxBackups, s.RetentionDays)
	fmt.Fprintf(out, "Total size:       %s\n", backup.FormatBytes(s.TotalSizeBytes))
	fmt.Fprintf(out, "Disk free:        %s\n", backup.FormatBytes(int64(s.DiskFreeBytes)))
	if s.TotalBackups > 0 {
		fmt.Fprintf(out, "Newest:           %s\n", s.Newest.Local().Format(time.DateTime))
		fmt.Fprintf(out, "Oldest:           %s\n", s.Oldest.Local().Format(time.DateTime))
	}
	for typ, ts := range s.ByType {
		fmt.Fprintf(out, "  %-14s %d (%s)\n", typ, ts.Count, backup.FormatBytes(ts.TotalSizeBytes))
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, _, err := openKeeper(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	removed, err := k.Backups().Prune(ctx)
	for _, name := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to prune.")
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

