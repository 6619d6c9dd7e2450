// SPDX-License-Identifier: EPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	BundleNotFoundId Id = iota + 1
	BundleParseErrorId
	DaemonNotFoundId
	DaemonUnreachableId
	BuildFailedId
	DependencyCycleId
	UnpinnedBaseImageId
	ContextUnreadableId
	ConfigLoadFailedId
	ArchiveFailedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // must never be empty, because we need to have docs about all issue types
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	bundleNotFoundIssue = &Issue{
		id: BundleNotFoundId,
		mdMsg: `
# No bundle file found!

We searched for a bundle.cue but couldn't find one in the expected locations.

## Search locations (in order of precedence):
1. The path given with --file
2. Current directory

## Things you can try:
- Change into the directory holding your bundle:
~~~
$ cd /path/to/your/bundle
$ cnabforge build
~~~

- Or point at the file explicitly:
~~~
$ cnabforge build --file ./deploy/bundle.cue
~~~`,
	}

	bundleParseErrorIssue = &Issue{
		id: BundleParseErrorId,
		mdMsg: `
# Failed to parse bundle file!

Your bundle.cue contains syntax errors or invalid configuration.

## Common issues:
- Invalid CUE syntax (missing quotes, braces, etc.)
- Unknown field names
- Missing required fields (version, invocationImage, context for components)
- A requires edge pointing at a component that does not exist

## Example of a valid bundle:
~~~cue
name:            "shop"
version:         "1.0.0"
invocationImage: "installer"

components: {
	base: {
		context: "./base"
	}
	installer: {
		context:  "./installer"
		requires: base: "BASE_IMAGE"
	}
}
~~~`,
	}

	daemonNotFoundIssue = &Issue{
		id: DaemonNotFoundId,
		mdMsg: `
# No build daemon found!

Neither Docker nor Podman responded on this machine.

## Things you can try:
- Check that Docker or Podman is installed:
~~~
$ docker version
$ podman version
~~~

- Start the daemon if it is installed but stopped
- Select a daemon explicitly in your config:
~~~cue
engine: "podman"
~~~`,
	}

	daemonUnreachableIssue = &Issue{
		id: DaemonUnreachableId,
		mdMsg: `
# Build daemon unreachable!

The daemon binary exists but did not answer. This is a connectivity problem,
not a negative cache result: nothing was built or tagged.

## Things you can try:
- Check the daemon is running and your user may talk to it
- Retry once the daemon is back; cached layers and tags are unaffected`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# Image build failed!

The daemon ran the build and reported failure. The captured build log is
printed above.

## Things to keep in mind:
- Build failures are deterministic for identical inputs; retrying without
  changing the context or arguments will fail the same way
- Components that do not depend on the failed one were still built`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected!

The requires edges of your components form a cycle, so no build order exists.
Nothing was built.

## Things you can try:
- Review the cycle members named in the error message
- Break the cycle by removing or inverting one requires edge`,
	}

	unpinnedBaseImageIssue = &Issue{
		id: UnpinnedBaseImageId,
		mdMsg: `
# Base image could not be pinned!

A base image reference uses a mutable tag and could not be resolved to a
digest. Fingerprints over mutable tags would silently go stale.

## Things you can try:
- Pull the image once so the daemon knows its digest:
~~~
$ docker pull alpine:3.20
~~~

- Or pin the reference yourself:
~~~cue
baseImages: ["docker.io/library/alpine@sha256:..."]
~~~`,
	}

	contextUnreadableIssue = &Issue{
		id: ContextUnreadableId,
		mdMsg: `
# Build context unreadable!

A component's context directory could not be walked, so its fingerprint
cannot be computed and nothing was sent to the daemon.

## Things you can try:
- Check the context path in your bundle.cue
- Check permissions on the directory and its contents
- Exclude unreadable paths with the component's ignore patterns`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Your config.cue could not be loaded or did not validate.

## Things you can try:
- Check the error message above for the specific field
- Show the effective configuration:
~~~
$ cnabforge config show
~~~

- Regenerate a default config file:
~~~
$ cnabforge config init
~~~`,
	}

	archiveFailedIssue = &Issue{
		id: ArchiveFailedId,
		mdMsg: `
# Image export failed!

The daemon could not save the bundle's images into a tarball.

## Things you can try:
- Check free disk space at the output path
- Verify every manifest image still exists:
~~~
$ docker image ls
~~~

- Rebuild the bundle and archive again`,
	}

	issues = map[Id]*Issue{
		bundleNotFoundIssue.Id():    bundleNotFoundIssue,
		bundleParseErrorIssue.Id():  bundleParseErrorIssue,
		daemonNotFoundIssue.Id():    daemonNotFoundIssue,
		daemonUnreachableIssue.Id(): daemonUnreachableIssue,
		buildFailedIssue.Id():       buildFailedIssue,
		dependencyCycleIssue.Id():   dependencyCycleIssue,
		unpinnedBaseImageIssue.Id(): unpinnedBaseImageIssue,
		contextUnreadableIssue.Id(): contextUnreadableIssue,
		configLoadFailedIssue.Id():  configLoadFailedIssue,
		archiveFailedIssue.Id():     archiveFailedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
