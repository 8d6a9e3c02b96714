package domain

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Summer Trip", "summer trip"},
		{"  Summer   Trip  ", "summer trip"},
		{"SUMMER\tTRIP", "summer trip"},
		{"summer trip", "summer trip"},
		{"", ""},
		{"   ", ""},
		{"Ünïcode Nämé", "ünïcode nämé"},
		{"a\x00b", "ab"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, FoldName(c.in), "fold %q", c.in)
	}
}

func TestNameMember(t *testing.T) {
	t.Run("编码与解码互逆", func(t *testing.T) {
		member := NameMember("Summer Trip", "col_123")
		id, ok := IDFromNameMember(member)
		require.True(t, ok)
		assert.Equal(t, "col_123", id)
	})

	t.Run("同名集合按ID稳定排序", func(t *testing.T) {
		a := NameMember("Holiday", "col_aaa")
		b := NameMember("Holiday", "col_bbb")
		assert.Less(t, a, b)
	})

	t.Run("非法member解码失败", func(t *testing.T) {
		_, ok := IDFromNameMember("no-separator-here")
		assert.False(t, ok)
	})
}

// 折叠名称的字节序必须与期望的名称排序一致：
// 名称排序靠member字典序实现，member前缀即折叠名称
func TestNameMemberOrdering(t *testing.T) {
	names := []struct {
		name string
		id   string
	}{
		{"zebra", "col_1"},
		{"Alpha", "col_2"},
		{"  alpha  beta", "col_3"},
		{"Beta", "col_4"},
		{"alpha beta gamma", "col_5"},
	}

	members := make([]string, 0, len(names))
	for _, n := range names {
		members = append(members, NameMember(n.name, n.id))
	}
	sort.Strings(members)

	got := make([]string, 0, len(members))
	for _, m := range members {
		id, ok := IDFromNameMember(m)
		require.True(t, ok)
		got = append(got, id)
	}

	// alpha(col_2) < alpha beta(col_3) < alpha beta gamma(col_5) < beta(col_4) < zebra(col_1)
	assert.Equal(t, []string{"col_2", "col_3", "col_5", "col_4", "col_1"}, got)
}

func TestNumericScore(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &CollectionSummary{
		ID:             "col_1",
		ImageCount:     42,
		TotalSizeBytes: 1 << 30,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now,
	}

	t.Run("时间戳编码为毫秒", func(t *testing.T) {
		score, ok := NumericScore(SortFieldUpdated, s)
		require.True(t, ok)
		assert.Equal(t, float64(now.UnixMilli()), score)

		score, ok = NumericScore(SortFieldCreated, s)
		require.True(t, ok)
		assert.Equal(t, float64(now.Add(-time.Hour).UnixMilli()), score)
	})

	t.Run("计数与字节数直接编码", func(t *testing.T) {
		score, ok := NumericScore(SortFieldItems, s)
		require.True(t, ok)
		assert.Equal(t, float64(42), score)

		score, ok = NumericScore(SortFieldSize, s)
		require.True(t, ok)
		assert.Equal(t, float64(1<<30), score)
	})

	t.Run("名称字段无数值分值", func(t *testing.T) {
		_, ok := NumericScore(SortFieldName, s)
		assert.False(t, ok)
	})

	// 字段值更大则分值严格更大（排序正确性的基础）
	t.Run("分值保序", func(t *testing.T) {
		later := &CollectionSummary{UpdatedAt: now.Add(time.Millisecond)}
		a, _ := NumericScore(SortFieldUpdated, s)
		b, _ := NumericScore(SortFieldUpdated, later)
		assert.Less(t, a, b)
	})
}

func TestMemberFor(t *testing.T) {
	s := &CollectionSummary{ID: "col_9", Name: "My Album"}

	assert.Equal(t, "col_9", MemberFor(SortFieldUpdated, s))
	assert.Equal(t, "col_9", MemberFor(SortFieldSize, s))
	assert.Equal(t, NameMember("My Album", "col_9"), MemberFor(SortFieldName, s))

	assert.Equal(t, "col_9", MemberID(SortFieldUpdated, "col_9"))
	assert.Equal(t, "col_9", MemberID(SortFieldName, NameMember("My Album", "col_9")))
}
