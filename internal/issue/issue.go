// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
)

// Id identifies a known issue with a troubleshooting guide.
type Id int

const (
	ConfigInvalidId Id = iota + 1
	SettingsNotFoundId
	NotRepositoryId
	ToolchainMissingId
	BuildToolsMissingId
	NoDeviceId
	MultipleDevicesId
	AppNotInstalledId
	DependencyCycleId
	ProcessorNotResolvedId
)

type (
	// MarkdownMsg is the guide of an issue.
	MarkdownMsg string

	// HttpLink points to external documentation.
	HttpLink string

	// Issue is a troubleshooting guide rendered for the user.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the guide for a terminal with the given glamour style
// ("dark", "light", "notty", ...).
func (i *Issue) Render(style string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), style)
}

var (
	render = glamour.Render

	configInvalidIssue = &Issue{
		id: ConfigInvalidId,
		mdMsg: `
# Invalid configuration

The configuration file does not match the expected schema.

## Things you can try
- Print the effective configuration:
~~~
$ hotpatch config show
~~~
- Write a fresh file with every default:
~~~
$ hotpatch config init
~~~`,
	}

	settingsNotFoundIssue = &Issue{
		id: SettingsNotFoundId,
		mdMsg: `
# No Gradle project found

hotpatch looks for ` + "`settings.gradle`" + ` or ` + "`settings.gradle.kts`" + ` in the project root.

## Things you can try
- Run hotpatch from the root of your Android project.
- Point it at the project explicitly:
~~~
$ hotpatch build --project /path/to/project
~~~`,
	}

	notRepositoryIssue = &Issue{
		id: NotRepositoryId,
		mdMsg: `
# Project is not under git

Changed sources are taken from ` + "`git status`" + `, so the project must live in a git worktree.

## Things you can try
~~~
$ git init && git add -A && git commit -m "baseline"
~~~`,
	}

	toolchainMissingIssue = &Issue{
		id: ToolchainMissingId,
		mdMsg: `
# Kotlin compiler not found

The configured ` + "`toolchain.kotlinc`" + ` does not exist.

## Things you can try
- Use the compiler bundled with Android Studio, e.g.
  ` + "`/Applications/Android Studio.app/Contents/plugins/Kotlin/kotlinc/bin/kotlinc`" + `.
- Or set it through the environment:
~~~
$ export HOTPATCH_TOOLCHAIN_KOTLINC=/opt/kotlinc/bin/kotlinc
~~~`,
	}

	buildToolsMissingIssue = &Issue{
		id: BuildToolsMissingId,
		mdMsg: `
# Android build-tools not installed

d8 is taken from the newest ` + "`$ANDROID_SDK/build-tools/<version>`" + ` directory.

## Things you can try
~~~
$ sdkmanager "build-tools;35.0.0"
~~~`,
		extLinks: []HttpLink{"https://developer.android.com/tools/releases/build-tools"},
	}

	noDeviceIssue = &Issue{
		id: NoDeviceId,
		mdMsg: `
# No device connected

Exactly one device or emulator must be listed as ` + "`device`" + ` by adb.

## Things you can try
~~~
$ adb devices
~~~
- Accept the USB debugging prompt on the device.
- Start an emulator.`,
		extLinks: []HttpLink{"https://developer.android.com/tools/adb"},
	}

	multipleDevicesIssue = &Issue{
		id: MultipleDevicesId,
		mdMsg: `
# More than one device connected

Patches are deployed to a single device. Disconnect the others or stop extra emulators.`,
	}

	appNotInstalledIssue = &Issue{
		id: AppNotInstalledId,
		mdMsg: `
# Application not installed

Install a debug build before patching:
~~~
$ ./gradlew installDebug
~~~`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Module dependency cycle

The modules named above depend on each other through ` + "`project(...)`" + ` dependencies.
Gradle rejects such projects too; break the cycle before patching.`,
	}

	processorNotResolvedIssue = &Issue{
		id: ProcessorNotResolvedId,
		mdMsg: `
# Annotation processor not in the Gradle cache

The processor jars are taken from ` + "`~/.gradle/caches/modules-2`" + `.

## Things you can try
- Build the project once with Gradle so the processor is downloaded.
- Check ` + "`codegen.library`" + ` names the version catalog entry of the processor.`,
	}

	issues = map[Id]*Issue{
		configInvalidIssue.Id():        configInvalidIssue,
		settingsNotFoundIssue.Id():     settingsNotFoundIssue,
		notRepositoryIssue.Id():        notRepositoryIssue,
		toolchainMissingIssue.Id():     toolchainMissingIssue,
		buildToolsMissingIssue.Id():    buildToolsMissingIssue,
		noDeviceIssue.Id():             noDeviceIssue,
		multipleDevicesIssue.Id():      multipleDevicesIssue,
		appNotInstalledIssue.Id():      appNotInstalledIssue,
		dependencyCycleIssue.Id():      dependencyCycleIssue,
		processorNotResolvedIssue.Id(): processorNotResolvedIssue,
	}
)

// Values returns every known issue ordered by id.
func Values() []*Issue {
	values := maps.Values(issues)
	slices.SortFunc(values, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return values
}

// Get returns the issue with the given id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
