package handler

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/use-agent/pagefetch/cache"
	"github.com/use-agent/pagefetch/fingerprint"
	"github.com/use-agent/pagefetch/models"
)

// buildDiff compares cur with the previously cached response for the same
// request. Fingerprint distances are computed from the stored hex values;
// the patch is a character-level diff of the bodies.
func buildDiff(prev cache.Entry, cur *models.FetchAPIResponse) *models.DiffInfo {
	info := &models.DiffInfo{PreviousAt: prev.CreatedAt}
	if prev.Response == nil || prev.Response.Result == nil || cur.Result == nil {
		return info
	}

	if pf, cf := prev.Response.Fingerprint, cur.Fingerprint; pf != nil && cf != nil {
		info.BodyDistance = hexDistance(pf.Body, cf.Body)
		info.DOMDistance = hexDistance(pf.DOM, cf.DOM)
	}

	oldBody, newBody := prev.Response.Result.Body, cur.Result.Body
	if oldBody == newBody {
		return info
	}
	info.Changed = true

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldBody, newBody, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	info.Patch = dmp.PatchToText(dmp.PatchMake(oldBody, diffs))
	return info
}

// hexDistance returns the Hamming distance of two hex fingerprints, or 64
// when either cannot be parsed.
func hexDistance(a, b string) int {
	x, errA := fingerprint.ParseHex(a)
	y, errB := fingerprint.ParseHex(b)
	if errA != nil || errB != nil {
		return 64
	}
	return fingerprint.Distance(x, y)
}
