package tagnames

import (
	"errors"
	"strconv"
	"strings"
)

// Default tag prefixes.
const (
	DefaultPrefix          = "ci-"
	DefaultTemporaryPrefix = "_ci-"
)

const (
	fieldSeparatorConstant           = "-"
	storeMarkerConstant              = "store"
	latestSuffixConstant             = "latest"
	emptyPrefixMessageConstant       = "tag prefix and temporary tag prefix must be non-empty"
	identicalPrefixesMessageConstant = "tag prefix and temporary tag prefix must differ"
)

// ErrEmptyPrefix indicates a tag prefix was blank.
var ErrEmptyPrefix = errors.New(emptyPrefixMessageConstant)

// ErrIdenticalPrefixes indicates the final and temporary prefixes collide.
var ErrIdenticalPrefixes = errors.New(identicalPrefixesMessageConstant)

// PublishKind enumerates the release kinds publish can produce.
type PublishKind string

// Supported publish kinds in processing order.
const (
	PublishKindLatest   PublishKind = "latest"
	PublishKindNumbered PublishKind = "numbered"
	PublishKindTag      PublishKind = "tag"
)

// PublishKinds lists every kind in the order publish processes them.
func PublishKinds() []PublishKind {
	return []PublishKind{PublishKindLatest, PublishKindNumbered, PublishKindTag}
}

// StoredDraft describes a draft release created by the store command.
type StoredDraft struct {
	BuildNumber int
	JobNumber   int
	Branch      string
	Complete    bool
}

// InProgressPublish describes a draft release created by a publish run that has not been finalized.
type InProgressPublish struct {
	Kind        PublishKind
	BuildNumber int
	Branch      string
}

// Names renders and parses release tags for a pair of prefixes.
type Names struct {
	prefix          string
	temporaryPrefix string
}

// New validates the prefixes and constructs Names.
func New(prefix string, temporaryPrefix string) (Names, error) {
	if len(prefix) == 0 || len(temporaryPrefix) == 0 {
		return Names{}, ErrEmptyPrefix
	}
	if prefix == temporaryPrefix {
		return Names{}, ErrIdenticalPrefixes
	}
	return Names{prefix: prefix, temporaryPrefix: temporaryPrefix}, nil
}

// Prefix returns the final tag prefix.
func (names Names) Prefix() string {
	return names.prefix
}

// TemporaryPrefix returns the temporary tag prefix.
func (names Names) TemporaryPrefix() string {
	return names.temporaryPrefix
}

// StoredDraftTag renders the tag of a store draft.
func (names Names) StoredDraftTag(draft StoredDraft) string {
	prefix := names.temporaryPrefix
	if draft.Complete {
		prefix = names.prefix
	}
	return prefix + joinFields(storeMarkerConstant, strconv.Itoa(draft.BuildNumber), strconv.Itoa(draft.JobNumber), draft.Branch)
}

// ParseStoredDraftTag recognizes store draft tags. The temporary prefix is checked first.
func (names Names) ParseStoredDraftTag(tag string) (StoredDraft, bool) {
	if strings.HasPrefix(tag, names.temporaryPrefix) {
		if draft, parsed := parseStoredDraftFields(strings.TrimPrefix(tag, names.temporaryPrefix)); parsed {
			return draft, true
		}
	}
	if strings.HasPrefix(tag, names.prefix) {
		if draft, parsed := parseStoredDraftFields(strings.TrimPrefix(tag, names.prefix)); parsed {
			draft.Complete = true
			return draft, true
		}
	}
	return StoredDraft{}, false
}

// InProgressTag renders the temporary tag of a publish run.
func (names Names) InProgressTag(publish InProgressPublish) string {
	return names.temporaryPrefix + joinFields(string(publish.Kind), strconv.Itoa(publish.BuildNumber), publish.Branch)
}

// ParseInProgressTag recognizes temporary publish tags.
func (names Names) ParseInProgressTag(tag string) (InProgressPublish, bool) {
	if !strings.HasPrefix(tag, names.temporaryPrefix) {
		return InProgressPublish{}, false
	}

	fields := strings.SplitN(strings.TrimPrefix(tag, names.temporaryPrefix), fieldSeparatorConstant, 3)
	if len(fields) != 3 || len(fields[2]) == 0 {
		return InProgressPublish{}, false
	}

	kind, kindKnown := parsePublishKind(fields[0])
	buildNumber, buildParsed := parsePositiveInteger(fields[1])
	if !kindKnown || !buildParsed {
		return InProgressPublish{}, false
	}

	return InProgressPublish{Kind: kind, BuildNumber: buildNumber, Branch: fields[2]}, true
}

// LatestTag renders the tag of the latest release of a branch.
func (names Names) LatestTag(branch string) string {
	return names.prefix + joinFields(branch, latestSuffixConstant)
}

// NumberedTag renders the tag of a numbered release.
func (names Names) NumberedTag(branch string, buildNumber int) string {
	return names.prefix + joinFields(branch, strconv.Itoa(buildNumber))
}

// ParseNumberedTag extracts the build number from a numbered release tag of branch.
func (names Names) ParseNumberedTag(tag string, branch string) (int, bool) {
	expectedPrefix := names.prefix + branch + fieldSeparatorConstant
	if len(branch) == 0 || !strings.HasPrefix(tag, expectedPrefix) {
		return 0, false
	}
	return parsePositiveInteger(strings.TrimPrefix(tag, expectedPrefix))
}

// FinalTag renders the tag a publish kind is finalized under. Tag releases reuse the git tag.
func (names Names) FinalTag(kind PublishKind, branch string, buildNumber int, gitTag string) string {
	switch kind {
	case PublishKindLatest:
		return names.LatestTag(branch)
	case PublishKindNumbered:
		return names.NumberedTag(branch, buildNumber)
	default:
		return gitTag
	}
}

func parseStoredDraftFields(remainder string) (StoredDraft, bool) {
	fields := strings.SplitN(remainder, fieldSeparatorConstant, 4)
	if len(fields) != 4 || fields[0] != storeMarkerConstant || len(fields[3]) == 0 {
		return StoredDraft{}, false
	}

	buildNumber, buildParsed := parsePositiveInteger(fields[1])
	jobNumber, jobParsed := parsePositiveInteger(fields[2])
	if !buildParsed || !jobParsed {
		return StoredDraft{}, false
	}

	return StoredDraft{BuildNumber: buildNumber, JobNumber: jobNumber, Branch: fields[3]}, true
}

func parsePublishKind(value string) (PublishKind, bool) {
	for _, kind := range PublishKinds() {
		if string(kind) == value {
			return kind, true
		}
	}
	return "", false
}

func parsePositiveInteger(value string) (int, bool) {
	if len(value) == 0 {
		return 0, false
	}
	for _, character := range value {
		if character < '0' || character > '9' {
			return 0, false
		}
	}
	parsedValue, parseError := strconv.Atoi(value)
	if parseError != nil || parsedValue <= 0 {
		return 0, false
	}
	return parsedValue, true
}

func joinFields(fields ...string) string {
	return strings.Join(fields, fieldSeparatorConstant)
}
