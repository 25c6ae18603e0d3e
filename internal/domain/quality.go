package domain

// QualityIssue tags a failed quality criterion.
type QualityIssue string

const (
	IssueBlurry    QualityIssue = "blurry"
	IssueTooDark   QualityIssue = "too_dark"
	IssueTooBright QualityIssue = "too_bright"
	IssueTooSmall  QualityIssue = "too_small"
	IssueBadPose   QualityIssue = "bad_pose"
)

// QualityVerdict is the outcome of evaluating one face crop. Score is the
// mean of the four sub-scores; Issues lists failed checks in check order.
type QualityVerdict struct {
	Score      float64        `json:"score"`
	Issues     []QualityIssue `json:"issues"`
	Sharpness  float64        `json:"sharpness"`
	Brightness float64        `json:"brightness"`
	MinDim     int            `json:"min_dim"`
	PoseAngle  float64        `json:"pose_angle"`
}

// Accepted reports whether the score reaches cutoff.
func (v QualityVerdict) Accepted(cutoff float64) bool {
	return v.Score >= cutoff
}

// HasIssue reports whether issue was raised.
func (v QualityVerdict) HasIssue(issue QualityIssue) bool {
	for _, i := range v.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

// IssueStrings returns the issues as plain strings.
func (v QualityVerdict) IssueStrings() []string {
	out := make([]string, len(v.Issues))
	for i, issue := range v.Issues {
		out[i] = string(issue)
	}
	return out
}
