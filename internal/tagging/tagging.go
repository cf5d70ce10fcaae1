// Package tagging writes metadata into finished audio files.
package tagging

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/newsave/newsave/internal/domain"
	"github.com/newsave/newsave/internal/logger"
)

// Tagger writes title, artist and source metadata into downloaded files.
// Formats without a supported tag container are rejected with an error the
// caller is expected to treat as non-fatal.
type Tagger struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *Tagger {
	return &Tagger{logger: log.WithComponent("tagging")}
}

func (t *Tagger) Tag(path string, meta domain.TagMeta) error {
	ext := strings.ToLower(filepath.Ext(path))
	t.logger.Debug("tagging file", "path", path, "format", ext)

	switch ext {
	case ".mp3":
		return tagMP3(path, meta)
	case ".flac":
		return tagFLAC(path, meta)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
}

// tagMP3 writes ID3v2 tags to an MP3 file.
func tagMP3(path string, meta domain.TagMeta) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)

	if meta.Title != "" {
		tag.SetTitle(meta.Title)
	}
	if meta.Artist != "" {
		tag.SetArtist(meta.Artist)
	}
	if meta.SourceURL != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "Source",
			Text:        meta.SourceURL,
		})
	}
	if len(meta.CoverArt) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     meta.CoverArt,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 tags: %w", err)
	}
	return nil
}

// tagFLAC writes Vorbis comments and an optional cover art picture block.
func tagFLAC(path string, meta domain.TagMeta) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	cmt, cmtIdx, err := findVorbisComment(f)
	if err != nil {
		return fmt.Errorf("failed to read vorbis comment: %w", err)
	}
	if cmt == nil {
		cmt = flacvorbis.New()
	}

	if meta.Title != "" {
		if err := cmt.Add(flacvorbis.FIELD_TITLE, meta.Title); err != nil {
			return fmt.Errorf("failed to set title: %w", err)
		}
	}
	if meta.Artist != "" {
		if err := cmt.Add(flacvorbis.FIELD_ARTIST, meta.Artist); err != nil {
			return fmt.Errorf("failed to set artist: %w", err)
		}
	}
	if meta.SourceURL != "" {
		if err := cmt.Add("CONTACT", meta.SourceURL); err != nil {
			return fmt.Errorf("failed to set source url: %w", err)
		}
	}

	block := cmt.Marshal()
	if cmtIdx >= 0 {
		f.Meta[cmtIdx] = &block
	} else {
		f.Meta = append(f.Meta, &block)
	}

	if len(meta.CoverArt) > 0 {
		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, "Front cover", meta.CoverArt, "image/jpeg")
		if err != nil {
			return fmt.Errorf("failed to build picture block: %w", err)
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

func findVorbisComment(f *flac.File) (*flacvorbis.MetaDataBlockVorbisComment, int, error) {
	for idx, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return nil, -1, err
			}
			return cmt, idx, nil
		}
	}
	return nil, -1, nil
}
