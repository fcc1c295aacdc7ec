package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/droidflash/droidflash/internal/config"
	"github.com/droidflash/droidflash/pkg/catalog"
	"github.com/droidflash/droidflash/pkg/db"
	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/flashing"
	"github.com/droidflash/droidflash/pkg/hardware"
	"github.com/droidflash/droidflash/pkg/pipeline"
	"github.com/droidflash/droidflash/pkg/wizard"
)

var (
	installChannel string
	installSerial  string
	installYes     bool
)

var installCmd = &cobra.Command{
	Use:   "install <codename> <distro>",
	Short: "Install an alternative OS on a connected device",
	Long: `Waits for the named device, checks prerequisites (battery level,
bootloader unlock), then downloads, verifies, and flashes the selected
distribution.`,
	Args: cobra.ExactArgs(2),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&installChannel, "channel", "stable", "Release channel to install")
	installCmd.Flags().StringVar(&installSerial, "serial", "", "Only accept the device with this serial")
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "Skip the confirmation prompt")
}

// pipelineStarter launches the install FSM for a resolved plan and
// reports its outcome on done.
type pipelineStarter struct {
	repo    *db.Repository
	machine *pipeline.Machine
	manager *fsm.Manager
	start   fsm.Start[pipeline.InstallRequest, pipeline.InstallResponse]
	done    chan error
}

func (s *pipelineStarter) Start(ctx context.Context, cfg *catalog.InstallerConfig) (*pipeline.Run, error) {
	row := &db.Install{
		Serial:   cfg.Serial,
		Codename: cfg.Codename,
		Distro:   cfg.DistroID,
		ImageURL: cfg.ImageURL,
		SHA256:   cfg.SHA256,
		Status:   db.StatusPending,
	}
	if err := s.repo.Create(row); err != nil {
		return nil, errors.Wrap(err, "failed to record install")
	}

	run := pipeline.NewRun(ctx, cfg)
	run.SetInstallID(row.ID)
	s.machine.Bind(run)

	req := &pipeline.InstallRequest{
		InstallID:   row.ID,
		Serial:      cfg.Serial,
		Codename:    cfg.Codename,
		DistroID:    cfg.DistroID,
		ImageURL:    cfg.ImageURL,
		SHA256:      cfg.SHA256,
		Compression: cfg.Compression,
	}
	resp := &pipeline.InstallResponse{}

	version, err := s.start(ctx, fmt.Sprintf("install-%d", row.ID), fsm.NewRequest(req, resp))
	if err != nil {
		return nil, errors.Wrap(err, "FSM start failed")
	}

	go func() {
		s.done <- s.manager.Wait(ctx, version)
	}()
	return run, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	codename, distroID := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		return errors.Wrap(err, "catalog load failed")
	}
	if _, ok := cat.FindByCodename(codename); !ok {
		return fmt.Errorf("unknown device codename %q", codename)
	}
	if _, ok := cat.FindDistro(distroID); !ok {
		return fmt.Errorf("unknown distro %q", distroID)
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	adb := hardware.NewADB(cfg.ADBPath)
	fastboot := hardware.NewFastboot(cfg.FastbootPath)
	prober := hardware.NewProber(adb, fastboot, cfg.ProbeTimeout)
	monitor := hardware.NewMonitor(prober, cfg.PollInterval, cfg.RemovalMisses)

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := pipeline.NewMachine(
		repo,
		flashing.NewDownloader(cfg.S3Region),
		flashing.NewExecutor(fastboot),
		cfg.WorkDir,
		cfg.FSMMaxRetries,
		cfg.ResumeDownloads,
	)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	starter := &pipelineStarter{
		repo:    repo,
		machine: machine,
		manager: manager,
		start:   start,
		done:    make(chan error, 1),
	}
	ctl := wizard.NewController(cat, adb, fastboot, starter, cfg.WorkDir, wizard.Options{
		DownloadRetries: cfg.DownloadRetries,
		BatteryMin:      cfg.BatteryMin,
	})

	if err := waitForDevice(ctx, ctl, monitor, codename); err != nil {
		return err
	}

	if err := walkToSelection(ctx, ctl); err != nil {
		return err
	}
	if err := ctl.SelectDistro(distroID, installChannel); err != nil {
		return err
	}
	if err := ctl.CheckPrerequisites(ctx); err != nil {
		return err
	}

	if !installYes && !confirm(ctl.Session()) {
		fmt.Println("Aborted")
		return nil
	}

	// The pipeline owns the device while flashing; stop probing so the
	// prober's own adb calls don't race the flash tool.
	monitor.Pause()
	defer monitor.Resume()

	run, err := ctl.StartInstall(ctx)
	if err != nil {
		return err
	}

	go printProgress(run)

	go func() {
		<-ctx.Done()
		ctl.CancelInstall()
	}()

	for {
		werr := <-starter.done
		ctl.HandlePipelineResult(ctx, werr)
		if ctl.State() != wizard.StateInstalling {
			break
		}
		// A download retry relaunched the pipeline.
		run = ctl.Session().Run
		go printProgress(run)
	}

	session := ctl.Session()
	switch session.State {
	case wizard.StateSuccess:
		fmt.Println("\n✅ Installation complete")
		return nil
	default:
		if session.Cancelled {
			fmt.Println("\nInstallation cancelled")
			return nil
		}
		return fmt.Errorf("installation failed in %s stage: %v", session.FailedStage, session.Err)
	}
}

// waitForDevice runs the monitor until the wizard sees a device with the
// requested codename (and serial, when given).
func waitForDevice(ctx context.Context, ctl *wizard.Controller, monitor *hardware.Monitor, codename string) error {
	monitor.Start(ctx)
	fmt.Printf("Waiting for device %q (Ctrl-C to abort)...\n", codename)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-monitor.Events():
			if ev.Kind == hardware.EventAppeared && ev.Device != nil {
				if installSerial != "" && ev.Device.Serial != installSerial {
					continue
				}
			}
			ctl.HandleDeviceEvent(ev)
			if ctl.State() != wizard.StateDeviceDetails {
				continue
			}
			s := ctl.Session()
			if s.CatalogDevice == nil || !s.CatalogDevice.MatchesCodename(codename) {
				fmt.Printf("Ignoring device %s (codename %s)\n", s.Device.Serial, dash(s.Device.Codename))
				ctl.Reset()
				continue
			}
			fmt.Printf("Found %s %s (serial %s)\n", s.CatalogDevice.Maker, s.CatalogDevice.Name, s.Device.Serial)
			return nil
		}
	}
}

// walkToSelection moves through device details and the unlocking
// walkthrough to the distro selection screen.
func walkToSelection(ctx context.Context, ctl *wizard.Controller) error {
	if err := ctl.Next(ctx); err != nil {
		return err
	}

	for ctl.State() == wizard.StateUnlocking {
		steps := ctl.UnlockSteps()
		i := ctl.Session().UnlockIndex
		if i >= len(steps) {
			break
		}
		step := steps[i]

		if step.Warning != "" {
			fmt.Printf("⚠️  %s\n", step.Warning)
		}
		fmt.Printf("[%d/%d] %s\n    %s\n", step.Order, len(steps), step.Title, step.Description)

		if step.Kind == wizard.UnlockAutomated {
			if err := ctl.RunUnlockStep(ctx); err != nil {
				return errors.Wrap(err, "unlock step failed")
			}
			continue
		}

		if !installYes && !promptYes("Done? Continue") {
			return fmt.Errorf("unlocking not completed")
		}
		if err := ctl.Next(ctx); err != nil {
			return err
		}
	}
	return nil
}

func confirm(s wizard.Session) bool {
	fmt.Printf("\nAbout to install %s (%s channel) on %s.\n", s.Distro.Name, s.Channel, s.Device.Serial)
	if s.Distro.DownloadSizeBytes > 0 {
		fmt.Printf("Download size: %s\n", humanize.Bytes(uint64(s.Distro.DownloadSizeBytes)))
	}
	if s.CatalogDevice != nil {
		for _, w := range s.CatalogDevice.Warnings {
			fmt.Printf("⚠️  %s\n", w)
		}
	}
	fmt.Println("This will erase all data on the device.")
	return promptYes("Proceed")
}

func promptYes(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printProgress renders the run's event stream until it closes.
func printProgress(run *pipeline.Run) {
	var lastStage flashing.Stage
	for ev := range run.Events() {
		if ev.Stage != lastStage {
			fmt.Printf("\n[%s] ", ev.Stage)
			lastStage = ev.Stage
		}
		if ev.Line != "" {
			fmt.Printf("\n  %s", ev.Line)
			continue
		}
		if ev.BytesTotal > 0 {
			fmt.Printf("\r[%s] %s / %s (%.0f%% overall)",
				ev.Stage,
				humanize.Bytes(uint64(ev.BytesDone)),
				humanize.Bytes(uint64(ev.BytesTotal)),
				ev.Fraction*100)
		}
	}
	fmt.Println()
}
