package record

// FieldType 字段类型，影响持久化层的取值转换
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeFloat    FieldType = "float"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeTime     FieldType = "time"
	TypeDatetime FieldType = "datetime"
	TypeJSON     FieldType = "json"
)

// Field 字段元信息
type Field struct {
	Name string
	Type FieldType
	// NoAudit 为 true 时该字段不会出现在任何审计差异与描述中
	NoAudit bool
}

// Schema 描述一类记录：名称、主键字段、标题字段与字段列表（保持声明顺序）
type Schema struct {
	Name       string
	IDField    string
	TitleField string

	fields []*Field
	index  map[string]*Field
}

// SchemaOption 配置 Schema
type SchemaOption func(*Schema)

// WithIDField 指定主键字段名，默认 id
func WithIDField(name string) SchemaOption {
	return func(s *Schema) {
		if name != "" {
			s.IDField = name
		}
	}
}

// WithTitleField 指定标题字段名，默认 name；传空串表示没有标题字段
func WithTitleField(name string) SchemaOption {
	return func(s *Schema) { s.TitleField = name }
}

// WithFields 追加字段
func WithFields(fields ...*Field) SchemaOption {
	return func(s *Schema) {
		for _, f := range fields {
			s.add(f)
		}
	}
}

// NewSchema 创建模式
func NewSchema(name string, opts ...SchemaOption) *Schema {
	s := &Schema{
		Name:       name,
		IDField:    "id",
		TitleField: "name",
		index:      make(map[string]*Field),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Schema) add(f *Field) {
	if f == nil || f.Name == "" || f.Name == s.IDField {
		return
	}
	if f.Type == "" {
		f.Type = TypeString
	}
	if _, exists := s.index[f.Name]; exists {
		return
	}
	s.fields = append(s.fields, f)
	s.index[f.Name] = f
}

// Field 按名称查找字段
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.index[name]
	return f, ok
}

// HasField 字段是否存在
func (s *Schema) HasField(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Fields 返回字段列表（声明顺序，不含主键）
func (s *Schema) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// FieldNames 返回字段名列表
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.Name)
	}
	return names
}

// Title 返回标题字段；未配置或不存在时为 nil
func (s *Schema) Title() *Field {
	if s.TitleField == "" {
		return nil
	}
	return s.index[s.TitleField]
}
