package config

// StageBinariesConfig names the subprocess executable invoked for each
// external-service stage: the orchestrator never speaks to an AI service
// or upload target directly, it shells out to a CLI step that does. Paths
// are resolved once at startup and handed to pkg/execstep.Spec.Binary
// unchanged.
type StageBinariesConfig struct {
	Image    string `yaml:"image"`
	Video    string `yaml:"video"`
	Audio    string `yaml:"audio"`
	SFX      string `yaml:"sfx"`
	Assembly string `yaml:"assembly"`
	Upload   string `yaml:"upload"`
}

// DefaultStageBinaries returns the conventional ./bin/<name> paths used
// when system.yaml doesn't override them.
func DefaultStageBinaries() *StageBinariesConfig {
	return &StageBinariesConfig{
		Image:    "./bin/generate_image",
		Video:    "./bin/generate_video",
		Audio:    "./bin/generate_audio",
		SFX:      "./bin/generate_sfx",
		Assembly: "./bin/assemble_video",
		Upload:   "./bin/upload_video",
	}
}
