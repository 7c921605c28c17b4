package cycle

import "time"

// computeTarget decides when the next round opens.
//
// A persisted future anchor is reused as-is so a restart mid-wait resumes the
// same target instead of rerolling. Otherwise the target is a uniformly
// random instant on the following calendar day inside [BeginHour, EndHour),
// persisted before the wait starts. A persisted anchor already in the past
// fires immediately (the missed round runs right after restart).
func (s *Service) computeTarget() (time.Time, error) {
	now := s.now().In(s.cfg.Location)

	if t := s.reg.NextCycleAt(); !t.IsZero() {
		return t, nil
	}

	day := now.AddDate(0, 0, 1)
	hour := s.cfg.BeginHour + s.rng.Intn(s.cfg.EndHour-s.cfg.BeginHour)
	minute := s.rng.Intn(60)
	target := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, s.cfg.Location)

	if err := s.reg.SetNextCycleAt(target); err != nil {
		return time.Time{}, err
	}
	return target, nil
}
