package datanorm

import (
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// COLUMN MAPPING CHECKS
// =============================================================================
// A column mapping associates spreadsheet column indices with field names.
// The mapping itself is produced elsewhere (one model call per sheet); this
// file holds the local checks run against it before ingestion starts.

// Confidence tiers for a column mapping.
const (
	HighConfidenceThreshold = 0.8
	MinConfidenceThreshold  = 0.5

	TierAuto   = "auto"           // apply without review
	TierReview = "review"         // apply, surface for review
	TierManual = "manual-confirm" // require confirmation
)

// ConfidenceTier classifies a mapping confidence value.
func ConfidenceTier(confidence float64) string {
	switch {
	case confidence >= HighConfidenceThreshold:
		return TierAuto
	case confidence >= MinConfidenceThreshold:
		return TierReview
	default:
		return TierManual
	}
}

// UncoveredRequired returns the names of required fields that no mapped
// column covers. A non-empty result is a warning, not a hard failure.
func UncoveredRequired(rules []FieldRule, mapping map[int]string) []string {
	covered := make(map[string]bool, len(mapping))
	for _, name := range mapping {
		covered[name] = true
	}

	var missing []string
	for _, r := range rules {
		if r.Required && !covered[r.Name] {
			missing = append(missing, r.Name)
		}
	}
	return missing
}

// labelNames maps common CJK field labels to snake_case identifiers.
// When multiple raw labels mean the same thing, they all map here.
var labelNames = []struct {
	Label string
	Name  string
}{
	{"姓名", "name"},
	{"名字", "name"},
	{"用户名", "username"},
	{"手机号码", "phone"},
	{"手机号", "phone"},
	{"手机", "phone"},
	{"电话", "phone"},
	{"电子邮件", "email"},
	{"邮箱", "email"},
	{"地址", "address"},
	{"公司名称", "company_name"},
	{"公司", "company"},
	{"企业", "company"},
	{"创建时间", "created_at"},
	{"更新时间", "updated_at"},
	{"日期", "date"},
	{"时间", "time"},
	{"金额", "amount"},
	{"价格", "price"},
	{"数量", "quantity"},
	{"备注信息", "notes"},
	{"备注", "remark"},
	{"说明", "description"},
	{"描述", "description"},
	{"标题", "title"},
	{"编号", "id"},
	{"序号", "serial_number"},
	{"状态", "status"},
	{"类型", "type"},
	{"分类", "category"},
	{"年龄", "age"},
	{"性别", "gender"},
	{"身份证号", "id_card"},
	{"身份证", "id_card"},
	{"省份", "province"},
	{"城市", "city"},
	{"区县", "district"},
	{"邮编", "zipcode"},
	{"网址", "website"},
	{"网站", "website"},
	{"链接", "url"},
	{"职位", "position"},
	{"职务", "job_title"},
	{"部门", "department"},
	{"订单号", "order_id"},
	{"订单编号", "order_number"},
	{"产品", "product"},
	{"商品", "product"},
	{"品牌", "brand"},
	{"规格", "specification"},
	{"型号", "model"},
	{"单位", "unit"},
	{"总额", "total"},
	{"合计", "total"},
	{"税率", "tax_rate"},
	{"税额", "tax"},
}

// SuggestFieldName derives a snake_case field name from a human label.
// Known CJK labels translate via the table above (exact match first, then
// substring); anything else keeps its ASCII alphanumerics. Labels with no
// usable characters get a generated name.
func SuggestFieldName(label string) string {
	trimmed := strings.TrimSpace(label)

	for _, m := range labelNames {
		if trimmed == m.Label {
			return m.Name
		}
	}
	for _, m := range labelNames {
		if strings.Contains(trimmed, m.Label) {
			return m.Name
		}
	}

	var b strings.Builder
	for _, r := range strings.ToLower(trimmed) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}

	if name == "" {
		return "field_" + strconv.FormatInt(time.Now().Unix()%10000, 10)
	}
	if name[0] >= '0' && name[0] <= '9' {
		return "field_" + name
	}
	return name
}
