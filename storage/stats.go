package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// PrefixStats 汇总某个前缀下的对象
type PrefixStats struct {
	Prefix       string
	Objects      int64
	TotalSize    int64
	LastModified time.Time
}

// BucketReport groups object counts by top-level key prefix
// (flac/, mp3/, album_art/, meta/ ...).
type BucketReport struct {
	Bucket   string
	Prefixes []PrefixStats
}

// Total sums all prefixes.
func (r BucketReport) Total() PrefixStats {
	total := PrefixStats{Prefix: "*"}
	for _, p := range r.Prefixes {
		total.Objects += p.Objects
		total.TotalSize += p.TotalSize
		if p.LastModified.After(total.LastModified) {
			total.LastModified = p.LastModified
		}
	}
	return total
}

// topLevel returns "flac/" for "flac/abc.flac" and "" for keys without a slash.
func topLevel(key string) string {
	if i := strings.Index(key, "/"); i >= 0 {
		return key[:i+1]
	}
	return ""
}

// Report walks every object under prefix and groups it by top-level prefix.
func (s *MinioStore) Report(ctx context.Context, prefix string) (BucketReport, error) {
	groups := map[string]*PrefixStats{}
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return BucketReport{}, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		accumulate(groups, object.Key, object.Size, object.LastModified)
	}
	return buildReport(s.bucket, groups), nil
}

func accumulate(groups map[string]*PrefixStats, key string, size int64, modified time.Time) {
	p := topLevel(key)
	g, ok := groups[p]
	if !ok {
		g = &PrefixStats{Prefix: p}
		groups[p] = g
	}
	g.Objects++
	g.TotalSize += size
	if modified.After(g.LastModified) {
		g.LastModified = modified
	}
}

func buildReport(bucket string, groups map[string]*PrefixStats) BucketReport {
	report := BucketReport{Bucket: bucket}
	for _, g := range groups {
		report.Prefixes = append(report.Prefixes, *g)
	}
	sort.Slice(report.Prefixes, func(i, j int) bool {
		return report.Prefixes[i].Prefix < report.Prefixes[j].Prefix
	})
	return report
}

// RemovePrefix 删除前缀下的所有对象，返回提交删除的数量
func (s *MinioStore) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("refusing to remove an empty prefix")
	}
	var (
		listed  int
		listErr error
	)
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			listed++
			objectsCh <- object
		}
	}()

	var failed int
	var firstErr error
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("删除对象 %s 失败: %w", rErr.ObjectName, rErr.Err)
		}
	}
	// RemoveObjects drains objectsCh before closing its result channel.
	if listErr != nil {
		return listed - failed, fmt.Errorf("列出对象时出错: %w", listErr)
	}
	return listed - failed, firstErr
}
