// SPDX-License-Identifier: MPL-2.0

// Package device deploys dex patches to a single connected Android device
// through adb.
package device

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/hotpatch/hotpatch/internal/ctxlog"
	"github.com/hotpatch/hotpatch/internal/shell"
)

const (
	// DefaultPatchDir is the on-device directory holding patches.
	DefaultPatchDir = "/data/local/tmp"
	// PatchPrefix starts the file name of every pushed patch.
	PatchPrefix = "hotpatch-"
)

var (
	// ErrNoDevice is returned when no device is ready.
	ErrNoDevice = errors.New("no Android device connected")
	// ErrMultipleDevices is returned when more than one device is ready.
	ErrMultipleDevices = errors.New("multiple Android devices connected")
	// ErrNoInstall is returned when the application is not installed.
	ErrNoInstall = errors.New("application not installed on device")
)

// Device talks to the connected device.
type Device struct {
	Runner shell.Runner
	// ADB is the adb executable.
	ADB string
	// Package is the application id, e.g. "com.example.app".
	Package string
	// Component is the launcher activity, e.g. ".MainActivity".
	Component string
	// PatchDir defaults to DefaultPatchDir.
	PatchDir string
}

// CountReady returns the number of devices in the "device" state listed by
// "adb devices". Offline and unauthorized devices are not counted.
func CountReady(lines []string) int {
	n := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "list of devices") {
			continue
		}
		fields := strings.Split(line, "\t")
		if fields[len(fields)-1] == "device" {
			n++
		}
	}
	return n
}

// CheckConnected fails unless exactly one device is ready.
func (d *Device) CheckConnected(ctx context.Context) error {
	out, err := d.adb(ctx, "devices")
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	switch CountReady(out) {
	case 0:
		return ErrNoDevice
	case 1:
		ctxlog.FromContext(ctx).Debug("Android device found")
		return nil
	default:
		return ErrMultipleDevices
	}
}

// PatchPath returns the on-device path of the next patch. The name encodes
// the install time of the application in milliseconds, so a reinstall makes
// older patches stale.
func (d *Device) PatchPath(ctx context.Context) (string, error) {
	out, err := d.adb(ctx, "shell", "dumpsys", "package", d.Package)
	if err != nil {
		return "", fmt.Errorf("dumpsys %s: %w", d.Package, err)
	}
	var apk string
	for _, line := range out {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, "/base.apk") {
			continue
		}
		if i := strings.Index(line, "/data/"); i >= 0 {
			apk = line[i:]
			break
		}
	}
	if apk == "" {
		return "", fmt.Errorf("%s: %w", d.Package, ErrNoInstall)
	}

	out, err = d.adb(ctx, "shell", "date", "-r", apk, "+%s")
	if err != nil {
		return "", fmt.Errorf("read install time: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("read install time: empty output")
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(out[0]), 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse install time %q: %w", out[0], err)
	}
	return path.Join(d.patchDir(), fmt.Sprintf("%s%d000.dex", PatchPrefix, seconds)), nil
}

// RemovePatches deletes every patch pushed to the device.
func (d *Device) RemovePatches(ctx context.Context) error {
	pattern := path.Join(d.patchDir(), PatchPrefix+"*.dex")
	if _, err := d.adb(ctx, "shell", "rm", "-f", pattern); err != nil {
		return fmt.Errorf("remove patches: %w", err)
	}
	return nil
}

// Push copies a local patch to remote.
func (d *Device) Push(ctx context.Context, local, remote string) error {
	if _, err := d.adb(ctx, "push", local, remote); err != nil {
		return fmt.Errorf("push patch: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("patch pushed", "path", remote)
	return nil
}

// Restart force-stops the application and launches its component.
func (d *Device) Restart(ctx context.Context) error {
	if _, err := d.adb(ctx, "shell", "am", "force-stop", d.Package); err != nil {
		return fmt.Errorf("stop %s: %w", d.Package, err)
	}
	_, err := d.adb(ctx, "shell", "am", "start",
		"-n", d.Package+"/"+d.Component,
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER")
	if err != nil {
		return fmt.Errorf("start %s: %w", d.Component, err)
	}
	ctxlog.FromContext(ctx).Debug("application restarted", "component", d.Component)
	return nil
}

func (d *Device) patchDir() string {
	if d.PatchDir == "" {
		return DefaultPatchDir
	}
	return d.PatchDir
}

func (d *Device) adb(ctx context.Context, args ...string) ([]string, error) {
	adb := d.ADB
	if adb == "" {
		adb = "adb"
	}
	line := "LANG=en_US " + shell.NewCommand(adb).Arg(args...).String()
	res, err := d.Runner.Run(ctx, line)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &shell.CommandError{Command: line, Output: res.Output}
	}
	return res.Output, nil
}
