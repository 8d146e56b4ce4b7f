package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweepgrid/sweepgrid/internal/configfile"
	"github.com/sweepgrid/sweepgrid/internal/convert"
	"github.com/sweepgrid/sweepgrid/internal/dataset"
	"github.com/sweepgrid/sweepgrid/internal/paramspace"
	"github.com/sweepgrid/sweepgrid/internal/script"
)

var (
	spaceFile string
	outDir    string
	chunkSize int
	fullLines bool
	dryRun    bool
	// prepare
	templateFile string
	workDir      string
	auxFiles     []string
	// convert
	datasetDir string
	fieldName  string
	sliceTop   bool
	tempDir    string
	configPath string
	// logging
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sweepgrid",
		Short: "generate lattice-simulation parameter sweeps and convert their grid output",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	expandCmd := &cobra.Command{
		Use:   "expand",
		Short: "expand a parameter space into chunked case config files",
		RunE:  runExpand,
	}
	expandCmd.Flags().StringVar(&spaceFile, "space", "param_space.yaml", "parameter space yaml")
	expandCmd.Flags().StringVar(&outDir, "out", ".", "directory for config files")
	expandCmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "max cases per config file (0 = single file)")
	expandCmd.Flags().BoolVar(&fullLines, "full", false, "write name=value assignments with each case")
	expandCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print case identifiers instead of writing files")

	prepareCmd := &cobra.Command{
		Use:   "prepare [case_id]",
		Short: "create a case working directory with its instantiated input script",
		Args:  cobra.ExactArgs(1),
		RunE:  runPrepare,
	}
	prepareCmd.Flags().StringVar(&spaceFile, "space", "param_space.yaml", "parameter space yaml")
	prepareCmd.Flags().StringVar(&templateFile, "template", "", "input script template (required)")
	prepareCmd.Flags().StringVar(&workDir, "workdir", ".", "directory holding per-case subdirectories")
	prepareCmd.Flags().StringSliceVar(&auxFiles, "aux", nil, "auxiliary files to copy into the case directory")
	prepareCmd.MarkFlagRequired("template")

	convertCmd := &cobra.Command{
		Use:   "convert [archive.tar.gz]",
		Short: "convert an output archive into the case dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  runConvert,
	}
	convertCmd.Flags().StringVar(&datasetDir, "dataset", "dataset", "dataset directory")
	convertCmd.Flags().StringVar(&fieldName, "field", "Spin", "scalar field to extract")
	convertCmd.Flags().BoolVar(&sliceTop, "slice-top", false, "store only the top 2D slice of each 3D frame")
	convertCmd.Flags().StringVar(&tempDir, "tmp", "", "scratch directory for frame extraction")
	convertCmd.Flags().StringVar(&configPath, "config", "", "full-mode config file supplying case parameters")

	lsCmd := &cobra.Command{
		Use:   "ls [dataset-dir]",
		Short: "list dataset cases",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [dataset-dir] [case_id]",
		Short: "plot a case's mean field value over time",
		Args:  cobra.ExactArgs(2),
		RunE:  runPlot,
	}

	rootCmd.AddCommand(expandCmd, prepareCmd, convertCmd, lsCmd, plotCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExpand(cmd *cobra.Command, args []string) error {
	space, err := paramspace.Load(spaceFile)
	if err != nil {
		return err
	}
	cases, err := space.Expand()
	if err != nil {
		return err
	}
	logrus.WithField("cases", len(cases)).Info("expanded parameter space")

	if dryRun {
		for _, c := range cases {
			fmt.Println(c.ID())
		}
		return nil
	}

	mode := configfile.IDOnly
	if fullLines {
		mode = configfile.Full
	}
	paths, err := configfile.Write(cases, outDir, configfile.Options{ChunkSize: chunkSize, Mode: mode})
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func runPrepare(cmd *cobra.Command, args []string) error {
	caseID := args[0]

	space, err := paramspace.Load(spaceFile)
	if err != nil {
		return err
	}
	cases, err := space.Expand()
	if err != nil {
		return err
	}
	varying, err := space.VaryingNames()
	if err != nil {
		return err
	}

	// Expansion is deterministic, so the identifier is enough to recover
	// the full combination.
	var picked *paramspace.Case
	for i := range cases {
		if cases[i].ID() == caseID {
			picked = &cases[i]
			break
		}
	}
	if picked == nil {
		return fmt.Errorf("case %s not found in parameter space %s", caseID, spaceFile)
	}

	out, err := script.Instantiate(templateFile, caseID, picked.Assignments(), varying, workDir)
	if err != nil {
		return err
	}
	if len(auxFiles) > 0 {
		caseDir := filepath.Join(workDir, caseID)
		if err := script.CopyAux(filepath.Dir(templateFile), caseDir, auxFiles); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{"case": caseID, "script": out}).Info("case prepared")
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	opts := convert.Options{
		Field:    fieldName,
		SliceTop: sliceTop,
		TempDir:  tempDir,
	}
	if configPath != "" {
		lines, err := configfile.Read(configPath)
		if err != nil {
			return err
		}
		opts.Params = make(map[string]map[string]string, len(lines))
		for _, l := range lines {
			opts.Params[l.ID] = l.Assign
		}
	}

	res, err := convert.Run(args[0], datasetDir, opts)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"cases":   res.Cases,
		"frames":  res.Frames,
		"skipped": res.Skipped,
	}).Info("conversion finished")

	if len(res.Failed) > 0 {
		for caseID, cause := range res.Failed {
			logrus.WithField("case", caseID).WithError(cause).Error("case failed")
		}
		return fmt.Errorf("%d case(s) failed", len(res.Failed))
	}
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	ds, err := dataset.Open(args[0])
	if err != nil {
		return err
	}
	cases, err := ds.Cases()
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Println("no cases found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tFRAMES\tEXTENTS\tFIELD")
	for _, caseID := range cases {
		meta, err := ds.Meta(caseID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%dx%dx%d\t%s\n",
			meta.CaseID, meta.Frames,
			meta.Extents[0], meta.Extents[1], meta.Extents[2],
			meta.Field)
	}
	return w.Flush()
}

func runPlot(cmd *cobra.Command, args []string) error {
	ds, err := dataset.Open(args[0])
	if err != nil {
		return err
	}
	caseID := args[1]
	meta, err := ds.Meta(caseID)
	if err != nil {
		return err
	}
	if meta.Frames == 0 {
		return fmt.Errorf("case %s has no frames", caseID)
	}

	means := make([]float64, meta.Frames)
	for t := 0; t < meta.Frames; t++ {
		frame, err := ds.Frame(caseID, t)
		if err != nil {
			return err
		}
		sum := 0.0
		for _, v := range frame.Data {
			sum += v
		}
		means[t] = sum / float64(len(frame.Data))
	}

	fmt.Printf("case: %s\nfield: %s\nframes: %d\n\n", caseID, meta.Field, meta.Frames)
	graph := asciigraph.Plot(means,
		asciigraph.Height(12),
		asciigraph.Width(80),
		asciigraph.Caption(fmt.Sprintf("mean %s vs timestep", meta.Field)),
	)
	fmt.Println(graph)
	return nil
}
