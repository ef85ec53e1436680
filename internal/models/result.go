// ABOUTME: Search result structures for retrieval and answer synthesis
// ABOUTME: Includes the tagged image transport variant used by the HTTP layer
package models

import (
	"encoding/base64"
	"encoding/json"
)

// ScoredFrame pairs a frame with its relevance score for a query.
type ScoredFrame struct {
	Frame *Frame  `json:"frame"`
	Score float64 `json:"score"`
}

// SearchResult is the ephemeral answer to a query: synthesized prose plus the
// evidence frames it is grounded in, ordered by relevance.
type SearchResult struct {
	Answer string        `json:"answer"`
	Frames []ScoredFrame `json:"frames"`
}

// ImageKind tags how a frame image travels over the wire.
type ImageKind int

const (
	// ImagePath references the image by its on-disk path.
	ImagePath ImageKind = iota
	// ImageInline carries the raw image bytes, base64-encoded in JSON.
	ImageInline
)

// FrameImage is the tagged transport representation of a frame's image.
// Callers branch on Kind rather than probing for field presence.
type FrameImage struct {
	Kind  ImageKind
	Path  string
	Bytes []byte
}

// MarshalJSON emits exactly one of image_path or image_base64.
func (fi FrameImage) MarshalJSON() ([]byte, error) {
	switch fi.Kind {
	case ImageInline:
		return json.Marshal(struct {
			ImageBase64 string `json:"image_base64"`
		}{base64.StdEncoding.EncodeToString(fi.Bytes)})
	default:
		return json.Marshal(struct {
			ImagePath string `json:"image_path"`
		}{fi.Path})
	}
}

// UnmarshalJSON restores the tag from whichever field is present.
func (fi *FrameImage) UnmarshalJSON(data []byte) error {
	var raw struct {
		ImagePath   string `json:"image_path"`
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw.ImageBase64)
		if err != nil {
			return err
		}
		fi.Kind = ImageInline
		fi.Bytes = decoded
		return nil
	}
	fi.Kind = ImagePath
	fi.Path = raw.ImagePath
	return nil
}
