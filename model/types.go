package model

// AnnotationView is the JSON form of an annotation.
//
// A view carrying only CID stands for an annotation that has not been
// resolved. A view with a CID and fields is a resolved annotation.
type AnnotationView struct {
	CID     string `json:"cid,omitempty"`
	Address string `json:"address,omitempty"`
	From    uint64 `json:"from"`
	End     uint64 `json:"end"`
	Comment string `json:"comment,omitempty"`
}

// SequenceView is the JSON form of a sequence.
type SequenceView struct {
	CID         string           `json:"cid,omitempty"`
	Address     string           `json:"address"`
	Sequence    string           `json:"sequence"`
	Annotations []AnnotationView `json:"annotations"`
}

// BuildResponse reports the CIDs a build produced, annotations in order.
type BuildResponse struct {
	CID         string   `json:"cid"`
	Annotations []string `json:"annotations"`
}

// BundleReport summarizes a bundle import or export.
type BundleReport struct {
	Roots  []string          `json:"roots"`
	Blocks int               `json:"blocks"`
	Labels map[string]string `json:"labels,omitempty"`
}
