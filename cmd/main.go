package main

import (
	"fmt"
	"os"

	"github.com/The-Promised-Neverland/cardhost/internal/config"
	"github.com/The-Promised-Neverland/cardhost/internal/daemon"
	"github.com/The-Promised-Neverland/cardhost/internal/volume"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const usage = `usage: cardhost [command]

commands:
  (none)      serve the card over HTTP and FTP (foreground or as a service)
  install     install and start-enable the OS service
  uninstall   stop and remove the OS service
  restart     restart the OS service
  format      remove everything on the card
  dump        list every directory and file on the card
  space       show card capacity
  selftest    write, append, read and delete a test file on the card`

func main() {
	cfg := config.New()
	logger.Init(cfg.LogFile())
	app, manager := daemon.NewApplicationWithManager(cfg)

	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "":
		logger.Banner("Cardhost",
			"card:   "+cfg.CardRoot(),
			"http:   "+cfg.HTTPAddr(),
			"ftp:    "+cfg.FTPAddr(),
			"device: "+cfg.DeviceID(),
		)
		logger.Log.Info("Starting", "config", cfg.String())
		err = manager.StartDaemon()
	case "install":
		if err = manager.InstallDaemon(); err == nil {
			logger.Log.Info("Service installed", "name", cfg.ServiceName())
		}
	case "uninstall":
		if err = manager.UninstallDaemon(); err == nil {
			logger.Log.Info("Service uninstalled", "name", cfg.ServiceName())
		}
	case "restart":
		err = manager.RestartDaemon()
	case "format", "dump", "space", "selftest":
		err = withCard(app.Volume(), cmd)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Log.Error("Command failed", "command", cmd, "err", err)
		os.Exit(1)
	}
}

// withCard mounts the card for a maintenance command.
func withCard(vol *volume.Volume, cmd string) error {
	if err := vol.Mount(); err != nil {
		return err
	}
	defer vol.Unmount()

	switch cmd {
	case "format":
		if err := vol.Format(); err != nil {
			return err
		}
		logger.Log.Info("Card formatted", "root", vol.Root())
		return nil
	case "space":
		space, err := vol.Space()
		if err != nil {
			return err
		}
		logger.Banner("Card space",
			fmt.Sprintf("total: %d bytes", space.Total),
			fmt.Sprintf("free:  %d bytes", space.Free),
			fmt.Sprintf("used:  %d bytes (%.1f%%)", space.Used, space.UsedPercent),
		)
		return nil
	}

	task, err := vol.Enter()
	if err != nil {
		return err
	}
	defer task.Release()
	if cmd == "dump" {
		dirs, files, err := volume.DumpDir(task)
		if err != nil {
			return err
		}
		logger.Log.Info("Card listed", "directories", dirs, "files", files)
		return nil
	}
	return volume.SelfTest(task, "TestFile.txt")
}
