package offline

// Config holds the client-local preferences that decide which generated
// artifacts a media widget fetches, mirroring the env-derived settings
// the original reads via state().env.languages. Playback-time gentype
// preference (env_preferred_video_gentype / _audio_gentype) selects
// which mirrored artifact to play and belongs to the playback UI, which
// spec section 1 excludes; the download rules below are fixed, matching
// fetch_media_file's own hardcoded transcode targets.
type Config struct {
	// Languages lists the subtitle languages to mirror for every video
	// file, in vttSubpath order. A language with no matching track is
	// logged and skipped, not an error (spec section 4.H: "per-file
	// download errors abort the task" applies to the primary media
	// file, not best-effort subtitle tracks).
	Languages []string
}
