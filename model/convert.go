package model

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/Proots-Foundation/pRoots-command-line/cidutil"
	"github.com/Proots-Foundation/pRoots-command-line/proots"
)

// FromSequence projects s into its JSON view. root may be cid.Undef.
func FromSequence(s proots.Sequence, root cid.Cid) SequenceView {
	v := SequenceView{
		Address:     s.Address,
		Sequence:    s.Sequence,
		Annotations: make([]AnnotationView, 0, len(s.Annotations)),
	}
	if root.Defined() {
		v.CID = root.String()
	}
	for _, l := range s.Annotations {
		v.Annotations = append(v.Annotations, fromLink(l))
	}
	return v
}

func fromLink(l proots.AnnotationLink) AnnotationView {
	if a, ok := l.Annotation(); ok {
		return AnnotationView{Address: a.Address, From: a.From, End: a.End, Comment: a.Comment}
	}
	id, _ := l.CID()
	return AnnotationView{CID: id.String()}
}

// ToSequence converts a view back into a sequence. Annotation views that
// carry only a CID become links; the rest are validated and kept in memory.
func (v SequenceView) ToSequence() (proots.Sequence, error) {
	s := proots.Sequence{Address: v.Address, Sequence: v.Sequence}
	for i, av := range v.Annotations {
		l, err := av.toLink()
		if err != nil {
			return proots.Sequence{}, &CodedError{Code: ErrInvalidRequest, Message: fmt.Sprintf("annotations[%d]: %v", i, err), Index: intPtr(i)}
		}
		s.Annotations = append(s.Annotations, l)
	}
	return s, nil
}

func (av AnnotationView) toLink() (proots.AnnotationLink, error) {
	if av.CID != "" && av.Address == "" && av.Comment == "" && av.From == 0 && av.End == 0 {
		id, err := cidutil.Parse(av.CID)
		if err != nil {
			return proots.AnnotationLink{}, err
		}
		return proots.Linked(id), nil
	}
	a, err := proots.NewAnnotation(av.Address, av.From, av.End, av.Comment)
	if err != nil {
		return proots.AnnotationLink{}, err
	}
	return proots.Materialized(a), nil
}

// NewBuildResponse lists the CIDs of a built sequence; shallow must be the
// shallow resolve of root.
func NewBuildResponse(root cid.Cid, shallow proots.Sequence) BuildResponse {
	out := BuildResponse{CID: root.String(), Annotations: make([]string, 0, len(shallow.Annotations))}
	for _, l := range shallow.Annotations {
		if id, ok := l.CID(); ok {
			out.Annotations = append(out.Annotations, id.String())
		}
	}
	return out
}

func intPtr(i int) *int { return &i }
