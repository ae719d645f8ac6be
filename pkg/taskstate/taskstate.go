// Package taskstate implements the task status enum and transition table:
// 25 statuses partitioned into ACTIVE/TERMINAL, a single explicit from-to
// transition table, and the one allowed re-queue edge from any terminal
// status back to QUEUED.
package taskstate

import "fmt"

// Status is one of the 25 task statuses.
type Status string

// Control statuses.
const (
	Draft     Status = "DRAFT"
	Queued    Status = "QUEUED"
	Claimed   Status = "CLAIMED"
	Cancelled Status = "CANCELLED"
	Published Status = "PUBLISHED"
)

// In-progress statuses.
const (
	GeneratingAssets = Status("GENERATING_ASSETS")
	AssetsReady      = Status("ASSETS_READY")
	AssetsApproved   = Status("ASSETS_APPROVED")
	GeneratingVideo  = Status("GENERATING_VIDEO")
	VideoReady       = Status("VIDEO_READY")
	VideoApproved    = Status("VIDEO_APPROVED")
	GeneratingAudio  = Status("GENERATING_AUDIO")
	AudioReady       = Status("AUDIO_READY")
	AudioApproved    = Status("AUDIO_APPROVED")
	GeneratingSFX    = Status("GENERATING_SFX")
	Assembling       = Status("ASSEMBLING")
	Assembled        = Status("ASSEMBLED")
	FinalReview      = Status("FINAL_REVIEW")
	Uploading        = Status("UPLOADING")
)

// Terminal-recoverable error statuses.
const (
	AssetError    = Status("ASSET_ERROR")
	VideoError    = Status("VIDEO_ERROR")
	AudioError    = Status("AUDIO_ERROR")
	SFXError      = Status("SFX_ERROR")
	AssemblyError = Status("ASSEMBLY_ERROR")
	UploadError   = Status("UPLOAD_ERROR")
)

// All lists all 25 statuses, in declaration order.
var All = []Status{
	Draft, Queued, Claimed, Cancelled, Published,
	GeneratingAssets, AssetsReady, AssetsApproved,
	GeneratingVideo, VideoReady, VideoApproved,
	GeneratingAudio, AudioReady, AudioApproved,
	GeneratingSFX, Assembling, Assembled, FinalReview, Uploading,
	AssetError, VideoError, AudioError, SFXError, AssemblyError, UploadError,
}

// transitions is the from->to table of legal edges. Anything not listed
// here is illegal and Validate returns InvalidStateTransition.
var transitions = map[Status][]Status{
	Draft:            {Queued, Cancelled},
	Queued:           {Claimed, Cancelled},
	// GENERATING_ASSETS is CLAIMED's ordinary next step; the second target,
	// QUEUED, is the stale-claim reaper's recovery edge for a claim whose
	// worker died before ever starting GENERATING_ASSETS.
	Claimed:          {GeneratingAssets, Queued},
	GeneratingAssets: {AssetsReady, AssetError},
	AssetsReady:      {AssetsApproved, AssetError},
	AssetsApproved:   {GeneratingVideo},
	GeneratingVideo:  {VideoReady, VideoError},
	VideoReady:       {VideoApproved, VideoError},
	VideoApproved:    {GeneratingAudio},
	GeneratingAudio:  {AudioReady, AudioError},
	AudioReady:       {AudioApproved, AudioError},
	AudioApproved:    {GeneratingSFX},
	GeneratingSFX:    {Assembling, SFXError},
	Assembling:       {Assembled, AssemblyError},
	Assembled:        {FinalReview},
	FinalReview:      {Uploading, UploadError},
	Uploading:        {Published, UploadError},

	// Re-queue: every terminal status accepts exactly one outgoing edge,
	// back to QUEUED. UPLOAD_ERROR additionally allows returning straight
	// to FINAL_REVIEW without regenerating assets/video/audio/sfx.
	AssetError:    {Queued},
	VideoError:    {Queued},
	AudioError:    {Queued},
	SFXError:      {Queued},
	AssemblyError: {Queued},
	UploadError:   {Queued, FinalReview},
	Cancelled:     {Queued},
	Published:     {Queued},
}

// activeSet holds every status counted as ACTIVE: queued or in-progress,
// i.e. it consumes a channel concurrency slot.
var activeSet = map[Status]bool{
	Queued: true, Claimed: true,
	GeneratingAssets: true, AssetsReady: true, AssetsApproved: true,
	GeneratingVideo: true, VideoReady: true, VideoApproved: true,
	GeneratingAudio: true, AudioReady: true, AudioApproved: true,
	GeneratingSFX: true, Assembling: true, Assembled: true,
	FinalReview: true, Uploading: true,
}

// reviewGates are the statuses a worker never claims: they advance only
// on external human acknowledgement.
var reviewGates = map[Status]bool{
	AssetsReady: true, VideoReady: true, AudioReady: true, FinalReview: true,
}

// errorStatuses map each in-progress stage to its *_ERROR terminal.
var errorStatuses = map[Status]bool{
	AssetError: true, VideoError: true, AudioError: true,
	SFXError: true, AssemblyError: true, UploadError: true,
}

// stageError maps every in-progress status that has a direct *_ERROR edge
// in the transition table to that edge's target. The five claim-transit
// statuses (CLAIMED, ASSETS_APPROVED, VIDEO_APPROVED, AUDIO_APPROVED,
// ASSEMBLED) are deliberately absent: each has exactly one legal outgoing
// edge, straight into the next stage, and the pipeline driver never
// suspends while holding one (see pkg/pipeline) - there is no external
// call, no network round trip, nothing that can hang there. Only statuses
// where the driver is actually waiting on something slow (a subprocess, a
// human reviewer) can go stale, and only those carry an error edge.
var stageError = map[Status]Status{
	GeneratingAssets: AssetError,
	AssetsReady:      AssetError,
	GeneratingVideo:  VideoError,
	VideoReady:       VideoError,
	GeneratingAudio:  AudioError,
	AudioReady:       AudioError,
	GeneratingSFX:    SFXError,
	Assembling:       AssemblyError,
	FinalReview:      UploadError,
	Uploading:        UploadError,
}

// ErrorFor returns the *_ERROR status a failed stage call lands on from
// status, and whether status is one the reaper/retry engine can recover
// this way at all.
func ErrorFor(status Status) (Status, bool) {
	to, ok := stageError[status]
	return to, ok
}

// Reapable reports whether the stale-claim reaper may act on a row sitting
// in status: it must be a status with a direct *_ERROR edge (see stageError
// above), since that is the only way the reaper can legally move the row.
func Reapable(status Status) bool {
	_, ok := stageError[status]
	return ok
}

// InvalidStateTransition is returned by Validate when the requested edge
// is not present in the transition table. It is the only error kind the
// state machine produces.
type InvalidStateTransition struct {
	From Status
	To   Status
}

func (e *InvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// Validate checks whether from->to is a legal edge. It returns
// *InvalidStateTransition (wrapped in an error interface) when it is not.
func Validate(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidStateTransition{From: from, To: to}
}

// IsActive reports whether status consumes a channel concurrency slot.
func IsActive(s Status) bool {
	return activeSet[s]
}

// IsTerminal is the complement of IsActive: every status is in exactly one
// of {ACTIVE, TERMINAL}.
func IsTerminal(s Status) bool {
	return !activeSet[s]
}

// IsReviewGate reports whether status only advances via external human
// acknowledgement; the pipeline driver never claims tasks in these statuses.
func IsReviewGate(s Status) bool {
	return reviewGates[s]
}

// IsError reports whether status is one of the stage *_ERROR terminals.
func IsError(s Status) bool {
	return errorStatuses[s]
}

// Valid reports whether s is one of the 25 declared statuses.
func Valid(s Status) bool {
	for _, known := range All {
		if known == s {
			return true
		}
	}
	return false
}
