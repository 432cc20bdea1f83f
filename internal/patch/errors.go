// SPDX-License-Identifier: MPL-2.0

package patch

import (
	"errors"

	"github.com/hotpatch/hotpatch/internal/changeset"
	"github.com/hotpatch/hotpatch/internal/compiler"
	"github.com/hotpatch/hotpatch/internal/dag"
	"github.com/hotpatch/hotpatch/internal/device"
	"github.com/hotpatch/hotpatch/internal/issue"
	"github.com/hotpatch/hotpatch/internal/libresolve"
	"github.com/hotpatch/hotpatch/internal/manifest"
	"github.com/hotpatch/hotpatch/internal/schedule"
)

type guide struct {
	target    error
	operation string
	id        issue.Id
}

var guides = []guide{
	{manifest.ErrNoSettings, "load project", issue.SettingsNotFoundId},
	{manifest.ErrNoModules, "load project", issue.SettingsNotFoundId},
	{changeset.ErrNotRepository, "read changed sources", issue.NotRepositoryId},
	{dag.ErrCycle, "resolve module graph", issue.DependencyCycleId},
	{schedule.ErrStuck, "schedule compilation rounds", issue.DependencyCycleId},
	{libresolve.ErrNotResolved, "resolve annotation processor", issue.ProcessorNotResolvedId},
	{compiler.ErrNoBuildTools, "build dex patch", issue.BuildToolsMissingId},
	{device.ErrNoDevice, "find device", issue.NoDeviceId},
	{device.ErrMultipleDevices, "find device", issue.MultipleDevicesId},
	{device.ErrNoInstall, "locate installed application", issue.AppNotInstalledId},
}

// explain links environment errors to their troubleshooting guide. Errors
// that already carry user-facing context pass through.
func explain(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := issue.GuideFor(err); ok {
		return err
	}
	for _, g := range guides {
		if errors.Is(err, g.target) {
			return issue.NewErrorContext().
				WithOperation(g.operation).
				WithGuide(g.id).
				Wrap(err).
				BuildError()
		}
	}
	return err
}
