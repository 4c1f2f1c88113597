package scheduler

// ExportedSendDigest exposes the private sendDigest method for external tests.
func (s *Scheduler) ExportedSendDigest() {
	s.sendDigest()
}

// ExportedSweepCache exposes the private sweepCache method for external tests.
func (s *Scheduler) ExportedSweepCache() {
	s.sweepCache()
}
