package main

import (
	"context"
	"fmt"
	"io"
	"math/cmplx"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"dipmpc/internal/config"
	"dipmpc/internal/experiment"
	"dipmpc/internal/metrics"
	"dipmpc/internal/sim"
	"dipmpc/internal/storage"
	"dipmpc/internal/tui"
	"dipmpc/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string

	dtFlag       float64
	stepsFlag    int
	horizonFlag  int
	theta1Flag   float64
	theta2Flag   float64
	posFlag      float64
	rFlag        float64
	forceFlag    float64
	integratorFl string
	methodFlag   string
	fallbackFlag string
	noWarmStart  bool

	saveLabel string
	verbose   bool

	varySpecs []string
	workers   int
	bestOut   string

	pngDir     string
	chartWidth int

	gifOut  string
	stride  int
	svgPath string

	exportOut string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dipmpc",
		Short: "model-predictive stabilization of a cart with two hinged rods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(nil)
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".dipmpc", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the closed loop and report a summary",
		RunE:  runExperiment,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().StringVar(&saveLabel, "save", "", "save the run under this label")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every tick")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "run a grid of configurations in parallel",
		RunE:  runSweep,
	}
	addConfigFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&varySpecs, "vary", nil,
		"axis to vary, e.g. --vary horizon=10,20,40 (repeatable; axes: "+strings.Join(experiment.AxisNames(), ", ")+")")
	sweepCmd.Flags().IntVar(&workers, "workers", 4, "parallel runs")
	sweepCmd.Flags().StringVar(&bestOut, "save-best", "", "write the best point's config to this file")

	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "show the linearized model and the feedback gain",
		RunE:  showModel,
	}
	addConfigFlags(modelCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "chart a saved run, or a fresh one when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE:  plotRun,
	}
	addConfigFlags(plotCmd)
	plotCmd.Flags().StringVar(&pngDir, "png", "", "write PNG plots into this directory instead of the terminal")
	plotCmd.Flags().IntVar(&chartWidth, "width", 80, "terminal chart width")

	animateCmd := &cobra.Command{
		Use:   "animate [run_id]",
		Short: "render a run as an animated GIF",
		Args:  cobra.MaximumNArgs(1),
		RunE:  animateRun,
	}
	addConfigFlags(animateCmd)
	animateCmd.Flags().StringVar(&gifOut, "out", "dipmpc.gif", "output file")
	animateCmd.Flags().IntVar(&stride, "stride", 2, "keep every n-th frame")
	animateCmd.Flags().StringVar(&svgPath, "svg", "", "also write an SVG snapshot of the final state")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export a saved run as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a saved run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "watch the controller work, one tick per frame",
		RunE:  runLive,
	}
	addConfigFlags(liveCmd)

	rootCmd.AddCommand(runCmd, sweepCmd, modelCmd, listCmd, plotCmd,
		animateCmd, exportCSVCmd, exportJSONCmd, liveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addConfigFlags registers the flags every config-consuming command shares.
// Only flags the user actually set override the preset or file values.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "preset configuration ("+strings.Join(config.ListPresets(), ", ")+")")
	cmd.Flags().Float64Var(&dtFlag, "dt", config.DefaultDt, "control period (s)")
	cmd.Flags().IntVar(&stepsFlag, "steps", config.DefaultSteps, "ticks to run")
	cmd.Flags().IntVar(&horizonFlag, "horizon", 20, "prediction horizon (ticks)")
	cmd.Flags().Float64Var(&theta1Flag, "theta1", config.DefaultTheta, "initial lower hinge angle (rad)")
	cmd.Flags().Float64Var(&theta2Flag, "theta2", -config.DefaultTheta, "initial upper hinge angle (rad)")
	cmd.Flags().Float64Var(&posFlag, "pos", 0, "initial cart position (m)")
	cmd.Flags().Float64Var(&rFlag, "r", config.DefaultR, "input weight")
	cmd.Flags().Float64Var(&forceFlag, "force", config.DefaultForce, "symmetric force limit (N)")
	cmd.Flags().StringVar(&integratorFl, "integrator", "rk4", "plant integrator (rk4, euler)")
	cmd.Flags().StringVar(&methodFlag, "method", "zoh", "discretization (zoh, euler)")
	cmd.Flags().StringVar(&fallbackFlag, "fallback", "zero", "input on failed solves (zero, hold)")
	cmd.Flags().BoolVar(&noWarmStart, "no-warm-start", false, "solve every tick cold")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q (available: %s)",
				preset, strings.Join(config.ListPresets(), ", "))
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("dt") {
		cfg.Dt = dtFlag
	}
	if flags.Changed("steps") {
		cfg.Steps = stepsFlag
	}
	if flags.Changed("horizon") {
		cfg.Horizon = horizonFlag
	}
	if flags.Changed("theta1") {
		cfg.InitState.Theta1 = theta1Flag
	}
	if flags.Changed("theta2") {
		cfg.InitState.Theta2 = theta2Flag
	}
	if flags.Changed("pos") {
		cfg.InitState.Pos = posFlag
	}
	if flags.Changed("r") {
		cfg.Weights.R = rFlag
	}
	if flags.Changed("force") {
		cfg.Bounds.UMax = forceFlag
		cfg.Bounds.UMin = -forceFlag
	}
	if flags.Changed("integrator") {
		cfg.Integrator = integratorFl
	}
	if flags.Changed("method") {
		cfg.Method = methodFlag
	}
	if flags.Changed("fallback") {
		cfg.Controller.Fallback = fallbackFlag
	}
	if noWarmStart {
		cfg.Controller.WarmStart = false
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// tickLogger prints one line per completed tick when --verbose is set.
type tickLogger struct {
	dt float64
}

func (l tickLogger) OnStep(k int, x sim.State, u float64, info sim.StepInfo) {
	mark := ""
	if info.Fallback {
		mark = "  fallback"
	}
	fmt.Printf("tick %4d  t=%6.2fs  u=%+9.3f N  %-18s iters=%-4d theta=[%+.4f %+.4f]%s\n",
		k, float64(k+1)*l.dt, u, info.Status, info.Iterations, x[1], x[2], mark)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	exp, err := experiment.New(cfg)
	if err != nil {
		return err
	}
	if verbose {
		exp.AddObserver(tickLogger{dt: cfg.Dt})
	}

	fmt.Printf("running %d ticks at dt=%gs, horizon %d...\n", cfg.Steps, cfg.Dt, cfg.Horizon)
	ctx, stop := signalContext()
	defer stop()

	start := time.Now()
	traj, runErr := exp.Run(ctx)
	elapsed := time.Since(start)

	if traj == nil {
		return runErr
	}
	fmt.Printf("finished in %v\n\n", elapsed)

	sum := metrics.Summarize(traj)
	printSummary(cfg, sum)

	if saveLabel != "" {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(saveLabel, cfg, traj)
		if err != nil {
			return err
		}
		fmt.Printf("\nsaved as %s\n", runID)
	}
	return runErr
}

func printSummary(cfg *config.Config, sum metrics.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ticks\t%d/%d (%s)\n", sum.Ticks, cfg.Steps, sum.Reason)
	if sum.SettleTick >= 0 {
		fmt.Fprintf(w, "settled\ttick %d (t=%.2fs)\n", sum.SettleTick, float64(sum.SettleTick)*cfg.Dt)
	} else {
		fmt.Fprintf(w, "settled\tnever\n")
	}
	fmt.Fprintf(w, "peak force\t%.3f N\n", sum.PeakForce)
	fmt.Fprintf(w, "mean |force|\t%.3f N\n", sum.MeanAbsForce)
	fmt.Fprintf(w, "solver iters\t%d total, %.1f mean, %d max\n",
		sum.Iterations.Total, sum.Iterations.Mean, sum.Iterations.Max)
	fmt.Fprintf(w, "fallback ticks\t%d\n", sum.FallbackTicks)

	statuses := make([]string, 0, len(sum.StatusCounts))
	for s := range sum.StatusCounts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", s, sum.StatusCounts[s]))
	}
	fmt.Fprintf(w, "solve statuses\t%s\n", strings.Join(parts, " "))
	fmt.Fprintf(w, "final state\t%s\n", formatState(sum.FinalState))
	w.Flush()
}

func formatState(x []float64) string {
	parts := make([]string, len(x))
	for i, v := range x {
		parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func runSweep(cmd *cobra.Command, args []string) error {
	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(varySpecs) == 0 {
		return fmt.Errorf("nothing to vary (use --vary, axes: %s)",
			strings.Join(experiment.AxisNames(), ", "))
	}

	axes := make([]experiment.Axis, 0, len(varySpecs))
	total := 1
	for _, spec := range varySpecs {
		name, values, err := parseVary(spec)
		if err != nil {
			return err
		}
		axis, err := experiment.AxisByName(name, values)
		if err != nil {
			return err
		}
		axes = append(axes, axis)
		total *= len(values)
	}

	fmt.Printf("sweeping %d configurations on %d workers...\n\n", total, workers)
	ctx, stop := signalContext()
	defer stop()

	start := time.Now()
	results := experiment.Sweep(ctx, base, axes, workers)
	elapsed := time.Since(start)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POINT\tTICKS\tREASON\tSETTLE\tPEAK N\tMEAN N\tITERS")
	for _, res := range results {
		if res.Err != nil && res.Summary.Ticks == 0 {
			fmt.Fprintf(w, "%s\t-\t%v\t\t\t\t\n", res.Name, res.Err)
			continue
		}
		settle := "never"
		if res.Summary.SettleTick >= 0 {
			settle = strconv.Itoa(res.Summary.SettleTick)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.2f\t%.2f\t%d\n",
			res.Name, res.Summary.Ticks, res.Summary.Reason, settle,
			res.Summary.PeakForce, res.Summary.MeanAbsForce, res.Summary.Iterations.Total)
	}
	w.Flush()
	fmt.Printf("\nswept in %v\n", elapsed)

	best := experiment.Best(results, experiment.DefaultObjective)
	if best < 0 {
		fmt.Println("no point settled cleanly")
		return nil
	}
	fmt.Printf("best: %s (objective %.3f)\n",
		results[best].Name, experiment.DefaultObjective(results[best].Summary))

	if bestOut != "" {
		if err := config.Save(bestOut, results[best].Config); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", bestOut)
	}
	return nil
}

// parseVary splits "name=v1,v2,v3" into an axis name and its values.
func parseVary(spec string) (string, []float64, error) {
	name, list, ok := strings.Cut(spec, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("bad --vary %q, expected name=v1,v2", spec)
	}
	parts := strings.Split(list, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad --vary value %q in %q", p, spec)
		}
		values = append(values, v)
	}
	return name, values, nil
}

func showModel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	exp, err := experiment.New(cfg)
	if err != nil {
		return err
	}

	p := exp.Model().Params()
	fmt.Printf("cart %.2f kg, rods %.2f/%.2f kg at %.2f/%.2f m, g=%.2f m/s^2\n\n",
		p.CartMass, p.Mass1, p.Mass2, p.Length1, p.Length2, p.Gravity)

	cont, err := exp.Model().Linearize()
	if err != nil {
		return err
	}
	fmt.Printf("continuous A =\n%v\n\n", mat.Formatted(cont.A, mat.Prefix("  "), mat.Squeeze()))
	fmt.Printf("continuous B =\n%v\n\n", mat.Formatted(cont.B, mat.Prefix("  "), mat.Squeeze()))

	var eig mat.Eigen
	if !eig.Factorize(cont.A, mat.EigenNone) {
		return fmt.Errorf("eigenvalue computation failed")
	}
	fmt.Println("continuous poles:")
	unstable := 0
	for _, v := range eig.Values(nil) {
		marker := ""
		if real(v) > 0 {
			marker = "  (unstable)"
			unstable++
		}
		fmt.Printf("  %+.4f %+.4fi%s\n", real(v), imag(v), marker)
	}
	fmt.Printf("%d unstable poles\n\n", unstable)

	d := exp.Plant()
	fmt.Printf("discrete (%s, dt=%gs) Ad =\n%v\n\n",
		cfg.Method, cfg.Dt, mat.Formatted(d.Ad, mat.Prefix("  "), mat.Squeeze()))

	form := exp.Formulation()
	if form.Prestabilized() {
		fmt.Printf("feedback gain K = %s\n", formatState(form.Gain()))
		var deig mat.Eigen
		if deig.Factorize(closedLoop(d.Ad, d.Bd, form.Gain()), mat.EigenNone) {
			radius := 0.0
			for _, v := range deig.Values(nil) {
				if m := cmplx.Abs(v); m > radius {
					radius = m
				}
			}
			fmt.Printf("closed-loop spectral radius %.4f\n", radius)
		}
	} else {
		fmt.Println("prestabilization unavailable, running plain condensing")
	}
	return nil
}

// closedLoop builds Ad - Bd*K for the pole report.
func closedLoop(ad *mat.Dense, bd *mat.VecDense, k []float64) *mat.Dense {
	n, _ := ad.Dims()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, ad.At(i, j)-bd.AtVec(i)*k[j])
		}
	}
	return out
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no saved runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tTICKS\tREASON\tSETTLE\tPEAK N")
	for _, run := range runs {
		settle := "never"
		if run.Summary.SettleTick >= 0 {
			settle = strconv.Itoa(run.Summary.SettleTick)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%.2f\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Summary.Ticks,
			run.Summary.Reason,
			settle,
			run.Summary.PeakForce,
		)
	}
	return w.Flush()
}

// loadOrRun fetches a saved trajectory, or produces a fresh one from the
// effective config when no run id was given.
func loadOrRun(cmd *cobra.Command, args []string) (*config.Config, *sim.Trajectory, error) {
	if len(args) == 1 {
		st := storage.New(dataDir)
		traj, err := st.LoadTrajectory(args[0])
		if err != nil {
			return nil, nil, err
		}
		cfg, err := st.LoadConfig(args[0])
		if err != nil {
			return nil, nil, err
		}
		return cfg, traj, nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	exp, err := experiment.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	ctx, stop := signalContext()
	defer stop()
	traj, runErr := exp.Run(ctx)
	if traj == nil {
		return nil, nil, runErr
	}
	if runErr != nil {
		fmt.Printf("run ended early: %v\n", runErr)
	}
	return cfg, traj, nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	_, traj, err := loadOrRun(cmd, args)
	if err != nil {
		return err
	}

	if pngDir != "" {
		if err := viz.WritePlots(pngDir, traj); err != nil {
			return err
		}
		fmt.Printf("wrote plots to %s\n", pngDir)
		return nil
	}
	fmt.Print(viz.ChartTrajectory(traj, chartWidth))
	return nil
}

func animateRun(cmd *cobra.Command, args []string) error {
	cfg, traj, err := loadOrRun(cmd, args)
	if err != nil {
		return err
	}

	scene := viz.NewScene(cfg.Physics.Length1, cfg.Physics.Length2,
		envelopeHalfSpan(cfg), cfg.Bounds.UMax)

	f, err := os.Create(gifOut)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := viz.WriteGIF(f, scene, traj, stride, 60, 24); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d states, stride %d)\n", gifOut, len(traj.States), stride)

	if svgPath != "" {
		final := traj.Final()
		u := 0.0
		if n := len(traj.Controls); n > 0 {
			u = traj.Controls[n-1]
		}
		if err := os.WriteFile(svgPath, []byte(viz.SceneSVG(scene, final, u, 60, 24)), 0644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", svgPath)
	}
	return nil
}

func envelopeHalfSpan(cfg *config.Config) float64 {
	if len(cfg.Envelope) > 0 && cfg.Envelope[0] > 0 {
		return cfg.Envelope[0]
	}
	return 2.5
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	w, closeFn, err := outputWriter(exportOut)
	if err != nil {
		return err
	}
	defer closeFn()
	return storage.WriteCSV(w, traj)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	traj, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}

	w, closeFn, err := outputWriter(exportOut)
	if err != nil {
		return err
	}
	defer closeFn()
	return storage.WriteJSON(w, *meta, traj)
}

func outputWriter(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return tui.RunLive(cfg)
}
