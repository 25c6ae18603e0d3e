package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

const (
	timeLayout    = "2006-01-02 15:04:05"
	boxLineWidth  = 2
	labelSize     = 14
	detailSize    = 12
	lineSpacing   = 18
	labelOffset   = 10
	rejectedLabel = "Low Quality"
	tooSmallLabel = "Too Small"
)

// Kind selects the colour of an annotation.
type Kind int

const (
	KindMatched Kind = iota
	KindNew
	KindRejected
	KindTooSmall
)

var kindColors = map[Kind]color.Color{
	KindMatched:  color.RGBA{R: 0, G: 255, B: 0, A: 255},
	KindNew:      color.RGBA{R: 255, G: 165, B: 0, A: 255},
	KindRejected: color.RGBA{R: 255, G: 0, B: 0, A: 255},
	KindTooSmall: color.RGBA{R: 128, G: 128, B: 128, A: 255},
}

func (k Kind) String() string {
	switch k {
	case KindMatched:
		return "matched"
	case KindNew:
		return "new"
	case KindRejected:
		return "rejected"
	case KindTooSmall:
		return "too_small"
	default:
		return "unknown"
	}
}

// Annotation is one box drawn on an analysed frame. Above is drawn upwards
// from the top edge, Below downwards from the bottom edge.
type Annotation struct {
	Box   domain.BoundingBox
	Kind  Kind
	Above []string
	Below []string
}

func matchedAnnotation(box domain.BoundingBox, r domain.MatchResult) Annotation {
	return Annotation{
		Box:  box,
		Kind: KindMatched,
		Above: []string{
			"ID: " + r.IdentityID,
			fmt.Sprintf("Conf: %.2f", r.Confidence),
		},
		Below: []string{
			fmt.Sprintf("Seen: %dx", r.DetectionCount),
			"First: " + r.FirstSeen.Format(timeLayout),
			"Last: " + r.LastSeen.Format(timeLayout),
		},
	}
}

func newIdentityAnnotation(box domain.BoundingBox, r domain.MatchResult) Annotation {
	return Annotation{
		Box:   box,
		Kind:  KindNew,
		Above: []string{"NEW: " + r.IdentityID},
		Below: []string{"First: " + r.FirstSeen.Format(timeLayout)},
	}
}

func rejectedAnnotation(box domain.BoundingBox, v domain.QualityVerdict) Annotation {
	label := rejectedLabel
	if len(v.Issues) > 0 {
		label = strings.Join(v.IssueStrings(), ", ")
	}
	return Annotation{Box: box, Kind: KindRejected, Above: []string{label}}
}

func tooSmallAnnotation(box domain.BoundingBox) Annotation {
	return Annotation{Box: box, Kind: KindTooSmall, Above: []string{tooSmallLabel}}
}

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Render draws anns onto a copy of img. img itself is never modified.
func Render(img *image.NRGBA, anns []Annotation) *image.NRGBA {
	if len(anns) == 0 {
		return img
	}

	dc := gg.NewContextForImage(img)
	label := truetype.NewFace(font, &truetype.Options{Size: labelSize})
	detail := truetype.NewFace(font, &truetype.Options{Size: detailSize})

	for _, a := range anns {
		if a.Box.Empty() {
			continue
		}
		c := kindColors[a.Kind]
		r := a.Box.Rect()

		dc.SetColor(c)
		dc.SetLineWidth(boxLineWidth)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()

		dc.SetFontFace(label)
		for i, line := range a.Above {
			y := r.Min.Y - labelOffset - i*lineSpacing
			dc.DrawString(line, float64(r.Min.X), float64(y))
		}

		dc.SetFontFace(detail)
		for i, line := range a.Below {
			y := r.Max.Y + (i+1)*lineSpacing
			dc.DrawString(line, float64(r.Min.X), float64(y))
		}
	}

	return imaging.Clone(dc.Image())
}
