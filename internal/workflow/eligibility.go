package workflow

import "rtb-inventory-api/internal/models"

// Evaluate returns the eligibility flag implied by a review decision.
// An approval is eligible unless the reviewer passes an explicit override,
// in which case the override wins. Rejections are never eligible and
// undecided applications carry no flag. Eligibility notes play no part.
func Evaluate(decision models.ApplicationStatus, override *bool) *bool {
	switch decision {
	case models.StatusApproved:
		v := true
		if override != nil {
			v = *override
		}
		return &v
	case models.StatusRejected:
		v := false
		return &v
	}
	return nil
}

// Assignable reports whether devices may be assigned to a
func Assignable(a models.DeviceApplication) bool {
	return a.Status == models.StatusApproved &&
		a.IsEligible != nil && *a.IsEligible &&
		len(a.AssignedDevices) == 0
}
