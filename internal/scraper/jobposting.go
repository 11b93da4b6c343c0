package scraper

import "context"

// JobPostingRuleset is a preset ruleset over the generic pipeline — no
// new control flow, just a fixed set of fields common to job listing
// pages (title, company, location, a free-text description, and any
// listed requirements).
func JobPostingRuleset() Ruleset {
	return Ruleset{
		"title": {
			Selector: "h1, .job-title, [class*='job-title'], [data-testid='job-title']",
		},
		"company": {
			Selector: ".company-name, [class*='company'], [data-testid='company-name']",
		},
		"location": {
			Selector: ".job-location, [class*='location'], [data-testid='job-location']",
		},
		"description": {
			Selector: ".job-description, [class*='description'], article",
		},
		"requirements": {
			Selector: "li",
			Multiple: true,
		},
	}
}

// ExtractJobPosting runs the generic pipeline with the job-posting
// preset ruleset.
func (s *Service) ExtractJobPosting(ctx context.Context, url string, useCache bool) *Result {
	return s.Extract(ctx, url, JobPostingRuleset(), useCache)
}
