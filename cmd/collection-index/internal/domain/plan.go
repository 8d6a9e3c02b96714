package domain

import (
	"time"
)

// IndexEntry 某个字段、某个范围下的一条有序集合记录
type IndexEntry struct {
	Field  SortField
	Scope  Scope
	Member string
	Score  float64
}

// IndexUpsert 一次投影写入的完整计划
// 存储层必须原子地执行：删除Del、写入Add、覆盖摘要与状态，
// 不允许出现部分可见的中间态
type IndexUpsert struct {
	Summary *CollectionSummary
	State   *CollectionIndexState

	// Add 需要写入或更新的索引项（覆盖同member旧分值）
	Add []IndexEntry

	// Del 需要先行删除的陈旧索引项（改名、换库、换类型遗留）
	Del []IndexEntry
}

// IndexRemove 一次删除的完整计划
type IndexRemove struct {
	ID string

	// Del 该集合在全部字段、全部范围下的索引项
	Del []IndexEntry
}

// IndexEntries 摘要在全部字段、全部所属范围下的索引项
func IndexEntries(s *CollectionSummary) []IndexEntry {
	scopes := ScopesOf(s.LibraryID, s.Type)
	entries := make([]IndexEntry, 0, len(SortFields())*len(scopes))

	for _, field := range SortFields() {
		member := MemberFor(field, s)
		score, _ := NumericScore(field, s)
		for _, scope := range scopes {
			entries = append(entries, IndexEntry{
				Field:  field,
				Scope:  scope,
				Member: member,
				Score:  score,
			})
		}
	}
	return entries
}

// staleEntries 相对上一次索引状态需要删除的陈旧项
//
// 两类陈旧：
//   - 离开的范围：库或类型变更后，旧范围下全部字段的member都要删；
//   - 名称member变更：改名后旧名称member要从上次的全部名称集合中删，
//     同member的数值字段靠覆盖写更新分值，无需删除。
func staleEntries(prev *CollectionIndexState, s *CollectionSummary) []IndexEntry {
	if prev == nil {
		return nil
	}

	prevScopes := ScopesOf(prev.LibraryID, prev.Type)
	newScopes := ScopesOf(s.LibraryID, s.Type)
	kept := make(map[string]bool, len(newScopes))
	for _, scope := range newScopes {
		kept[scope.Key()] = true
	}

	newNameMember := NameMember(s.Name, s.ID)
	var stale []IndexEntry

	for _, scope := range prevScopes {
		departed := !kept[scope.Key()]
		for _, field := range SortFields() {
			var member string
			if field == SortFieldName {
				member = prev.NameMember
			} else {
				member = prev.ID
			}
			if departed || (field == SortFieldName && prev.NameMember != newNameMember) {
				stale = append(stale, IndexEntry{Field: field, Scope: scope, Member: member})
			}
		}
	}
	return stale
}

// BuildIndexPlan 生成一次投影写入计划
// prev为nil表示首次索引；now写入IndexedAt
func BuildIndexPlan(prev *CollectionIndexState, s *CollectionSummary, now time.Time) *IndexUpsert {
	state := &CollectionIndexState{
		ID:              s.ID,
		IndexedAt:       now,
		UpdatedAt:       s.UpdatedAt,
		LibraryID:       s.LibraryID,
		Type:            s.Type,
		NameMember:      NameMember(s.Name, s.ID),
		ImageCount:      s.ImageCount,
		ThumbnailCount:  s.ThumbnailCount,
		CacheEntryCount: s.CacheEntryCount,
		TotalSizeBytes:  s.TotalSizeBytes,
	}

	// 封面引用未变时沿用已缓存的缩略图，变了则等待重新暖缓存
	if prev != nil && prev.HasThumbnail && prev.ThumbRef == s.FirstMediaThumb {
		state.HasThumbnail = true
	}
	state.ThumbRef = s.FirstMediaThumb

	return &IndexUpsert{
		Summary: s,
		State:   state,
		Add:     IndexEntries(s),
		Del:     staleEntries(prev, s),
	}
}

// BuildRemovePlan 生成一次删除计划
// 状态记录缺失时退化为仅删除摘要等键值（幂等删除）
func BuildRemovePlan(state *CollectionIndexState, id string) *IndexRemove {
	plan := &IndexRemove{ID: id}
	if state == nil {
		return plan
	}

	scopes := ScopesOf(state.LibraryID, state.Type)
	for _, field := range SortFields() {
		var member string
		if field == SortFieldName {
			member = state.NameMember
		} else {
			member = state.ID
		}
		for _, scope := range scopes {
			plan.Del = append(plan.Del, IndexEntry{Field: field, Scope: scope, Member: member})
		}
	}
	return plan
}
