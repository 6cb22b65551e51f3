package types

type MediaInfo struct {
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	Codec       string  `json:"codec"`
	Bitrate     int64   `json:"bitrate"`
	FPS         float64 `json:"fps"`
	HasAudio    bool    `json:"has_audio"`
	FileSize    int64   `json:"file_size"`
}

type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Words    []Word    `json:"words"`
	Language string    `json:"language"`

	// MissingSpans lists the time ranges whose chunks failed to transcribe.
	MissingSpans []Span `json:"missing_spans,omitempty"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// AudioChunk is a time slice of an audio file. Owned chunks are temp files
// that must be removed once transcribed.
type AudioChunk struct {
	Index       int
	Path        string
	StartOffset float64
	Duration    float64
	Owned       bool
}

type ChunkResult struct {
	Index    int
	Span     Span
	Text     string
	Segments []Segment
	Words    []Word
	Language string
	Err      error
}

func (r ChunkResult) Success() bool { return r.Err == nil }

type ClipCandidate struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
	Duration        float64 `json:"duration"`
	EngagementScore float64 `json:"engagement_score"`
}

type RenderedClip struct {
	Ordinal         int     `json:"clip_number"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
	Duration        float64 `json:"duration"`
	EngagementScore float64 `json:"engagement_score"`
	FilePath        string  `json:"file_path"`
	FileName        string  `json:"filename"`
	AspectRatio     string  `json:"aspect_ratio"`

	Caption      *CaptionResult `json:"caption_result,omitempty"`
	CaptionError string         `json:"caption_error,omitempty"`
}

type CaptionResult struct {
	VideoID        string  `json:"video_id"`
	TaskID         string  `json:"task_id"`
	CaptionedPath  string  `json:"captioned_path"`
	CaptionedName  string  `json:"captioned_filename"`
	ProcessingTime float64 `json:"processing_time"`
}

type Summary struct {
	VideoDuration     float64 `json:"video_duration"`
	TotalClips        int     `json:"total_clips"`
	TotalClipDuration float64 `json:"total_clip_duration"`
	UsedCaptioning    bool    `json:"used_captioning"`
	AspectRatio       string  `json:"aspect_ratio"`
}

type PipelineReport struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Clips      []RenderedClip `json:"clips"`
	MediaInfo  MediaInfo      `json:"original_video_info"`
	Transcript string         `json:"transcript"`
	Summary    Summary        `json:"processing_summary"`
}

type SourceKind string

const (
	SourcePath   SourceKind = "path"
	SourceUpload SourceKind = "upload"
	SourceURL    SourceKind = "url"
)

// Source describes where a job's video comes from. Upload and URL sources are
// owned by the job and removed when it ends.
type Source struct {
	Kind         SourceKind `json:"kind"`
	Path         string     `json:"path,omitempty"`
	URL          string     `json:"url,omitempty"`
	OriginalName string     `json:"original_name,omitempty"`
}

type Download struct {
	Path     string        `json:"path"`
	Platform string        `json:"platform"`
	PostID   string        `json:"post_id"`
	Metadata VideoMetadata `json:"metadata"`
}

type VideoMetadata struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	ViewCount  int64   `json:"view_count"`
	LikeCount  int64   `json:"like_count"`
	WebpageURL string  `json:"webpage_url"`
}
