package domain

import (
	"fmt"
)

// SortField 排序字段，封闭集合
// 每个字段对应一组物化的有序集合，新增字段必须同步扩展
// 评分编码（score.go）与存储键映射（data层）
type SortField string

const (
	SortFieldUpdated SortField = "updated"
	SortFieldCreated SortField = "created"
	SortFieldName    SortField = "name"
	SortFieldItems   SortField = "items"
	SortFieldSize    SortField = "size"
)

// SortFields 全部排序字段（物化与校验时遍历用）
func SortFields() []SortField {
	return []SortField{
		SortFieldUpdated,
		SortFieldCreated,
		SortFieldName,
		SortFieldItems,
		SortFieldSize,
	}
}

// ParseSortField 解析排序字段，空串取默认值updated
func ParseSortField(s string) (SortField, error) {
	switch SortField(s) {
	case "":
		return SortFieldUpdated, nil
	case SortFieldUpdated, SortFieldCreated, SortFieldName, SortFieldItems, SortFieldSize:
		return SortField(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortField, s)
	}
}

func (f SortField) String() string { return string(f) }

// Valid 检查排序字段是否合法
func (f SortField) Valid() bool {
	switch f {
	case SortFieldUpdated, SortFieldCreated, SortFieldName, SortFieldItems, SortFieldSize:
		return true
	}
	return false
}

// Direction 排序方向
// 有序集合只按升序物化一份，降序通过反向查询实现
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseDirection 解析排序方向，空串取默认值desc（最近优先）
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return Descending, nil
	case Ascending, Descending:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

func (d Direction) String() string { return string(d) }

// ScopeKind 查询范围类别
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "all"
	ScopeLibrary ScopeKind = "lib"
	ScopeType    ScopeKind = "type"
)

// Scope 查询范围：全局、单个媒体库或单个集合类型
type Scope struct {
	Kind  ScopeKind
	Value string
}

// GlobalScope 全局范围
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// LibraryScope 媒体库范围
func LibraryScope(libraryID string) Scope {
	return Scope{Kind: ScopeLibrary, Value: libraryID}
}

// TypeScope 类型范围
func TypeScope(collectionType string) Scope {
	return Scope{Kind: ScopeType, Value: collectionType}
}

// Key 范围的存储键片段（all / lib:<id> / type:<t>）
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeGlobal:
		return "all"
	case ScopeLibrary:
		return "lib:" + s.Value
	case ScopeType:
		return "type:" + s.Value
	default:
		return "all"
	}
}

// Valid 检查范围是否合法（库/类型范围必须带值）
func (s Scope) Valid() bool {
	switch s.Kind {
	case ScopeGlobal:
		return true
	case ScopeLibrary, ScopeType:
		return s.Value != ""
	}
	return false
}

// ScopesOf 一条摘要所属的全部范围
// 库或类型为空时跳过对应范围，全局范围总是包含
func ScopesOf(libraryID, collectionType string) []Scope {
	scopes := make([]Scope, 0, 3)
	scopes = append(scopes, GlobalScope())
	if libraryID != "" {
		scopes = append(scopes, LibraryScope(libraryID))
	}
	if collectionType != "" {
		scopes = append(scopes, TypeScope(collectionType))
	}
	return scopes
}
