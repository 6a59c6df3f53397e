// Package evidencetest builds evidence bundles for tests.
package evidencetest

import (
	"fmt"
	"time"

	"github.com/trendboard/opportunity-planner/internal/store/model"
)

var texts = []string{
	"Creators keep filming the receipt from a downtown cafe charging nine dollars for a plain latte this month.",
	"Comment threads under barista videos argue whether oat milk surcharges explain the jump in drink prices.",
	"A stitched clip comparing grocery bean costs with cafe menus passed two million views within three days.",
	"Small roasters answer with transparent pricing posts that break down rent, labor and equipment per cup.",
	"Morning routine vloggers now brew cold foam at home and caption it as their protest against overpriced drinks.",
	"Several local news pages picked up the story after a student posted a budget spreadsheet listing weekly coffee.",
	"Duets from former baristas describe how loyalty apps nudge customers toward the largest size every single visit.",
	"Search interest for homemade espresso machines rose sharply over the past week according to shared screenshots.",
	"Franchise owners posted rebuttals explaining supplier contracts and why their prices changed after the holidays.",
	"Finance educators use the cafe receipt meme to teach compounding, showing yearly totals for a daily habit.",
}

// Bundle returns n distinct, fresh items (n <= 10). The first tiktok items
// come from the required platform; the rest come from instagram. Every third
// item carries a transcript.
func Bundle(subjectID string, n, tiktok int, now time.Time) model.EvidenceList {
	items := make(model.EvidenceList, 0, n)
	for i := 0; i < n; i++ {
		platform := "instagram"
		if i < tiktok {
			platform = "tiktok"
		}
		published := now.Add(-time.Duration(i+1) * time.Hour)
		item := model.EvidenceItem{
			ID:           fmt.Sprintf("%s-ev-%02d", subjectID, i),
			SubjectID:    subjectID,
			Platform:     platform,
			ContentType:  "video",
			AuthorRef:    fmt.Sprintf("author-%d", i%5),
			CanonicalURL: fmt.Sprintf("https://%s.example.com/%s/%d", platform, subjectID, i),
			TextPrimary:  texts[i%len(texts)],
			PublishedAt:  &published,
		}
		if i%3 == 0 {
			transcript := "transcript: " + texts[(i+1)%len(texts)]
			item.TextSecondary = &transcript
		}
		items = append(items, item)
	}
	return items
}
