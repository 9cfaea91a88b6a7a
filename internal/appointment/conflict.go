package appointment

// Conflicts reports whether candidate falls within policy.MinGap of any
// existing booking of the same doctor. Only bookings on the candidate's date
// are compared unless the policy spans midnight.
func Conflicts(candidate Appointment, existing []Appointment, policy ConflictPolicy) bool {
	for _, appt := range existing {
		if policy.Clashes(candidate, appt) {
			return true
		}
	}
	return false
}

// Clashes is the pairwise rule behind Conflicts.
func (p ConflictPolicy) Clashes(a, b Appointment) bool {
	if a.DoctorID != b.DoctorID {
		return false
	}
	if p.GuardScope(a) != p.GuardScope(b) {
		return false
	}

	gap := a.Start.Sub(b.Start)
	if gap < 0 {
		gap = -gap
	}
	return gap < p.MinGap
}
