package pack

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/deckmark/internal/apperr"
	"github.com/starford/deckmark/internal/checksum"
	"github.com/starford/deckmark/internal/collection"
	"github.com/starford/deckmark/internal/content"
	"github.com/starford/deckmark/internal/parser"
	"github.com/starford/deckmark/internal/storage"
)

// Open reads a package file. A .zip package also yields its media, keyed by
// media name.
func Open(file string) (*Package, map[string][]byte, error) {
	if filepath.Ext(file) != ".zip" {
		f, err := os.Open(file)
		if err != nil {
			return nil, nil, fmt.Errorf("pack: open: %w", err)
		}
		defer f.Close()
		p, err := Decode(f)
		return p, nil, err
	}

	zr, err := zip.OpenReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: open zip: %w", err)
	}
	defer zr.Close()

	var p *Package
	media := map[string][]byte{}
	for _, zf := range zr.File {
		switch {
		case zf.Name == JSONName:
			p, err = decodeEntry(zf)
			if err != nil {
				return nil, nil, err
			}
		case strings.HasPrefix(zf.Name, MediaPrefix) && !zf.FileInfo().IsDir():
			name := content.StoreMediaName(strings.TrimPrefix(zf.Name, MediaPrefix))
			if name == "" || name == "." || name == ".." {
				continue
			}
			data, err := readEntry(zf)
			if err != nil {
				return nil, nil, err
			}
			media[name] = data
		}
	}
	if p == nil {
		return nil, nil, fmt.Errorf("pack: %w: %s has no %s", apperr.ErrParse, file, JSONName)
	}
	return p, media, nil
}

func decodeEntry(zf *zip.File) (*Package, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("pack: open %s: %w", zf.Name, err)
	}
	defer rc.Close()
	return Decode(rc)
}

func readEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("pack: open %s: %w", zf.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("pack: read %s: %w", zf.Name, err)
	}
	return data, nil
}

// UnpackResult reports what Unpack wrote.
type UnpackResult struct {
	Written      []string
	Skipped      []string // deck files left alone because they exist
	Notes        int
	Media        int
	MediaSkipped int               // identical files already present
	Renamed      map[string]string // media name -> name it was stored under
	Warnings     []string
}

func (r *UnpackResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Unpack writes the package's decks and media into a collection. Existing
// deck files are kept unless overwrite is set. A media file whose name is
// taken by different content is stored as name_N.ext and the notes' references
// follow it.
func Unpack(files storage.Provider, mediaDir string, p *Package, media map[string][]byte, overwrite bool) (*UnpackResult, error) {
	res := &UnpackResult{Renamed: map[string]string{}}

	names := make([]string, 0, len(media))
	for name := range media {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		target, identical, err := mediaTarget(files, mediaDir, name, media[name])
		if err != nil {
			return res, err
		}
		if target != name {
			res.Renamed[name] = target
		}
		if identical {
			res.MediaSkipped++
			continue
		}
		if err := files.Write(path.Join(mediaDir, target), media[name]); err != nil {
			return res, err
		}
		res.Media++
	}

	for _, d := range p.Decks {
		file, err := collection.FileName(d.Name)
		if err != nil {
			res.warn("deck %q skipped: %v", d.Name, err)
			continue
		}
		doc := &parser.Document{}
		if d.DeckID != "" {
			doc.DeckID, _ = strconv.ParseInt(d.DeckID, 10, 64)
		}
		for i, pn := range d.Notes {
			n, err := pn.note()
			if err != nil {
				res.warn("deck %q note %d skipped: %v", d.Name, i+1, err)
				continue
			}
			for prefix, body := range n.Fields {
				n.Fields[prefix] = content.RewriteMediaReferences(body, res.Renamed)
			}
			doc.Notes = append(doc.Notes, n)
		}

		exists, err := files.Exists(file)
		if err != nil {
			return res, err
		}
		if exists && !overwrite {
			res.Skipped = append(res.Skipped, file)
			continue
		}
		if err := files.Write(file, parser.Serialize(doc)); err != nil {
			return res, err
		}
		res.Written = append(res.Written, file)
		res.Notes += len(doc.Notes)
	}
	return res, nil
}

// mediaTarget picks the name data is stored under. identical reports that the
// same bytes already sit there.
func mediaTarget(files storage.Provider, mediaDir, name string, data []byte) (target string, identical bool, err error) {
	sum := checksum.Sum(data)
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	target = name
	for i := 1; ; i++ {
		p := path.Join(mediaDir, target)
		exists, err := files.Exists(p)
		if err != nil {
			return "", false, err
		}
		if !exists {
			return target, false, nil
		}
		existing, err := files.Read(p)
		if err != nil {
			return "", false, err
		}
		if checksum.Matches(existing, sum) {
			return target, true, nil
		}
		target = stem + "_" + strconv.Itoa(i) + ext
	}
}
