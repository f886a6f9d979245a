package pipeline

import (
	"sort"
	"time"
)

const DefaultClusterThreshold = 0.35

// Article is the clustering input: one ingested news item.
type Article struct {
	ID          int64
	Title       string
	Excerpt     string
	URL         string
	Source      string
	ImageURL    string
	PublishedAt time.Time
}

// Cluster is a group of articles judged to cover the same event. Score is the
// lowest average similarity seen while members joined; a lone seed scores 1.
type Cluster struct {
	Articles []Article
	Score    float64
}

func (c Cluster) Size() int {
	return len(c.Articles)
}

// Qualifies reports whether the cluster is large enough to become a story.
func (c Cluster) Qualifies() bool {
	return len(c.Articles) >= 2
}

func (c Cluster) ArticleIDs() []int64 {
	ids := make([]int64, 0, len(c.Articles))
	for _, article := range c.Articles {
		ids = append(ids, article.ID)
	}
	return ids
}

// BuildClusters groups articles with a single greedy pass. Articles are
// ordered newest first; each unassigned article seeds a cluster and every
// later unassigned article joins when its average similarity against all
// current members reaches threshold. A threshold <= 0 uses the default.
// Every article ends up in exactly one cluster, singletons included.
func BuildClusters(articles []Article, threshold float64) []Cluster {
	if len(articles) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultClusterThreshold
	}

	ordered := make([]Article, len(articles))
	copy(ordered, articles)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PublishedAt.After(ordered[j].PublishedAt)
	})

	tokens := make([][]string, len(ordered))
	for i := range ordered {
		tokens[i] = ArticleTokens(ordered[i])
	}

	assigned := make([]bool, len(ordered))
	clusters := make([]Cluster, 0, len(ordered))
	for seed := range ordered {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		members := []int{seed}
		score := 1.0

		for candidate := seed + 1; candidate < len(ordered); candidate++ {
			if assigned[candidate] {
				continue
			}
			total := 0.0
			for _, member := range members {
				total += Similarity(tokens[candidate], tokens[member])
			}
			avg := total / float64(len(members))
			if avg < threshold {
				continue
			}
			assigned[candidate] = true
			members = append(members, candidate)
			score = min(score, avg)
		}

		cluster := Cluster{Articles: make([]Article, 0, len(members)), Score: score}
		for _, idx := range members {
			cluster.Articles = append(cluster.Articles, ordered[idx])
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// QualifyingClusters drops clusters that cannot become stories.
func QualifyingClusters(clusters []Cluster) []Cluster {
	out := make([]Cluster, 0, len(clusters))
	for _, cluster := range clusters {
		if cluster.Qualifies() {
			out = append(out, cluster)
		}
	}
	return out
}
