package diagnostics

import (
	"strconv"
	"strings"

	"github.com/meigma/pack/deps"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

type tableRule struct {
	id       Rule
	severity Severity
	check    CheckFunc
}

// tableRules run over DB tables, in this order.
var tableRules = []tableRule{
	{OutdatedTable, Warning, checkOutdated},
	{BannedTable, Error, checkBanned},
	{TableNameEndsInNumber, Error, checkNameEndsInNumber},
	{TableNameHasSpace, Error, checkNameHasSpace},
	{TableIsDataCoring, Warning, checkDataCoring},
	{NoReferenceTableFound, Info, checkReferenceTables},
	{NoReferenceColumnFound, Warning, checkReferenceColumns},
	{InvalidReference, Error, checkReferences},
	{FieldWithPathNotFound, Warning, checkPaths},
	{EmptyRow, Error, checkEmptyRows},
	{EmptyKeyField, Warning, checkEmptyKeyField},
	{EmptyKeyFields, Warning, checkEmptyKeyFields},
	{ValueCannotBeEmpty, Error, checkCannotBeEmpty},
	{DuplicatedCombinedKeys, Error, checkDuplicatedKeys},
	{DuplicatedRow, Warning, checkDuplicatedRows},
}

func checkOutdated(c *Check) error {
	latest, ok := c.latestVersion()
	if !ok {
		return nil
	}
	if v := c.Table.Version(); v < latest {
		c.Report(nil, "Possibly outdated table: version %d, latest is %d.", v, latest)
	}
	return nil
}

func (c *Check) latestVersion() (int32, bool) {
	if s := c.state.engine.schemas; s != nil {
		if v, ok := s.LatestVersion(c.Table.Name); ok {
			return v, true
		}
	}
	return c.Cache.LatestVersion(c.Table.Name)
}

func checkBanned(c *Check) error {
	p := strings.ToLower(c.Path)
	for _, prefix := range c.state.engine.banned {
		if strings.HasPrefix(p, prefix) {
			c.Report(nil, "Banned table.")
			return nil
		}
	}
	return nil
}

func checkNameEndsInNumber(c *Check) error {
	if name := c.FileName(); name != "" && name[len(name)-1] >= '0' && name[len(name)-1] <= '9' {
		c.Report(nil, "Table name ends in number.")
	}
	return nil
}

func checkNameHasSpace(c *Check) error {
	if strings.Contains(c.FileName(), " ") {
		c.Report(nil, "Table name contains spaces.")
	}
	return nil
}

func checkDataCoring(c *Check) error {
	name := c.FileName()
	coring := name == strings.TrimSuffix(c.Table.Name, "_tables")
	if v := c.state.engine.vanillaName; v != "" {
		coring = name == v
	}
	if coring {
		c.Report(nil, "Table is datacoring.")
	}
	return nil
}

// referenceState classifies a reference target.
type referenceState uint8

const (
	refMissingTable referenceState = iota
	refMissingColumn
	refKnown
)

func (c *Check) referenceState(ref *schema.Reference) referenceState {
	name := deps.TableName(ref.Table)
	local := c.state.local
	if !local.hasTable(name) && !c.Cache.HasTable(name) {
		return refMissingTable
	}
	if !local.column(name, ref.Column).known && !c.Cache.HasColumn(name, ref.Column) {
		return refMissingColumn
	}
	return refKnown
}

// referenceFields calls fn for every column with a reference target whose
// field the running rule is not ignored for.
func (c *Check) referenceFields(fn func(col int, f *schema.Field)) {
	for i := range c.Table.Definition.Fields {
		f := &c.Table.Definition.Fields[i]
		if f.Reference == nil || f.Reference.Table == "" || c.Ignored(f.Name) {
			continue
		}
		fn(i, f)
	}
}

func checkReferenceTables(c *Check) error {
	c.referenceFields(func(col int, f *schema.Field) {
		if c.referenceState(f.Reference) == refMissingTable {
			c.Report([]Cell{{Row: -1, Column: col}}, "No reference table found for column %q.", f.Name)
		}
	})
	return nil
}

func checkReferenceColumns(c *Check) error {
	c.referenceFields(func(col int, f *schema.Field) {
		if c.referenceState(f.Reference) != refMissingColumn {
			return
		}
		if c.Cache.HasBulk() {
			c.reportAs(Info, []Cell{{Row: -1, Column: col}}, "No reference column found in referenced table for column %q. Maybe a problem with the schema?", f.Name)
			return
		}
		c.Report([]Cell{{Row: -1, Column: col}}, "No reference column found in referenced table for column %q. Was the bulk reference data loaded?", f.Name)
	})
	return nil
}

// checkReferences reports cells whose value no tier of the targeted table
// holds. Zero values mean "unset" and are never reported.
func checkReferences(c *Check) error {
	c.referenceFields(func(col int, f *schema.Field) {
		if c.referenceState(f.Reference) != refKnown {
			return
		}
		name := deps.TableName(f.Reference.Table)
		local := c.state.local.column(name, f.Reference.Column)
		for r, row := range c.Table.Rows {
			cell := row[col]
			if cell.IsZero() {
				continue
			}
			v := cell.Text()
			if local.has(v) {
				continue
			}
			if _, ok := c.Cache.Resolve(name, f.Reference.Column, v); ok {
				continue
			}
			c.Report([]Cell{{Row: r, Column: col}}, "Invalid reference %q in column %q.", v, f.Name)
		}
	})
	return nil
}

func checkPaths(c *Check) error {
	for col := range c.Table.Definition.Fields {
		f := &c.Table.Definition.Fields[col]
		if !f.Filename || c.Ignored(f.Name) {
			continue
		}
		for r, row := range c.Table.Rows {
			v := row[col].Text()
			if v == "" {
				continue
			}
			candidates, wildcard := candidatePaths(f, v)
			if wildcard || c.anyPathExists(candidates) {
				continue
			}
			c.Report([]Cell{{Row: r, Column: col}}, "Path not found: %s.", strings.Join(candidates, " || "))
		}
	}
	return nil
}

// candidatePaths expands a filename cell into the entry paths it may name.
// Paths with wildcards are not checked.
func candidatePaths(f *schema.Field, value string) (paths []string, wildcard bool) {
	for _, p := range f.RelativePaths(value) {
		if strings.Contains(p, "*") {
			return nil, true
		}
		for part := range strings.SplitSeq(strings.ReplaceAll(p, "\\", "/"), ",") {
			if part = strings.TrimSuffix(strings.TrimSpace(part), "/"); part != "" {
				paths = append(paths, part)
			}
		}
	}
	return paths, false
}

func (c *Check) anyPathExists(paths []string) bool {
	for _, p := range paths {
		if c.state.paths.has(p) || c.Cache.FileExists(p) {
			return true
		}
	}
	return false
}

// blank reports whether a cell counts as empty for the row and key rules.
func blank(cell table.Cell) bool {
	t := cell.Text()
	return t == "" || t == "false"
}

func checkEmptyRows(c *Check) error {
	for r, row := range c.Table.Rows {
		empty := true
		for _, cell := range row {
			if !blank(cell) {
				empty = false
				break
			}
		}
		if empty {
			c.Report([]Cell{{Row: r, Column: -1}}, "Empty row.")
		}
	}
	return nil
}

func checkEmptyKeyField(c *Check) error {
	keys := c.Table.Definition.Keys()
	if len(keys) != 1 {
		return nil
	}
	col := keys[0]
	f := &c.Table.Definition.Fields[col]
	if f.Type == schema.OptionalStringU8 || f.Type == schema.Boolean || c.Ignored(f.Name) {
		return nil
	}
	for r, row := range c.Table.Rows {
		if blank(row[col]) {
			c.Report([]Cell{{Row: r, Column: col}}, "Empty key for column %q.", f.Name)
		}
	}
	return nil
}

func checkEmptyKeyFields(c *Check) error {
	keys := c.Table.Definition.Keys()
	if len(keys) == 0 {
		return nil
	}
	for r, row := range c.Table.Rows {
		empty := true
		for _, k := range keys {
			if !blank(row[k]) {
				empty = false
				break
			}
		}
		if empty {
			c.Report(keyCells(r, keys), "Empty key fields.")
		}
	}
	return nil
}

func checkCannotBeEmpty(c *Check) error {
	for col := range c.Table.Definition.Fields {
		f := &c.Table.Definition.Fields[col]
		if !f.CannotBeEmpty || c.Ignored(f.Name) {
			continue
		}
		for r, row := range c.Table.Rows {
			if row[col].Text() == "" {
				c.Report([]Cell{{Row: r, Column: col}}, "Empty value for column %q.", f.Name)
			}
		}
	}
	return nil
}

// checkDuplicatedKeys reports every member of each group of rows sharing a
// key concatenation.
func checkDuplicatedKeys(c *Check) error {
	keys := c.Table.Definition.Keys()
	if len(keys) == 0 {
		return nil
	}
	for _, g := range groupRows(c.Table.Rows, c.Table.KeyString) {
		for _, r := range g.rows {
			c.Report(keyCells(r, keys), "Duplicated combined keys: %s.", g.key)
		}
	}
	return nil
}

func checkDuplicatedRows(c *Check) error {
	for _, g := range groupRows(c.Table.Rows, rowString) {
		for _, r := range g.rows {
			c.Report([]Cell{{Row: r, Column: -1}}, "Duplicated row: %s.", g.key)
		}
	}
	return nil
}

func rowString(row table.Row) string {
	parts := make([]string, len(row))
	for i, cell := range row {
		parts[i] = cell.Text()
	}
	return strings.Join(parts, table.KeySeparator)
}

type rowGroup struct {
	key  string
	rows []int
}

// groupRows returns the groups of two or more rows with the same key, in
// order of first occurrence.
func groupRows(rows []table.Row, key func(table.Row) string) []rowGroup {
	index := make(map[string]int, len(rows))
	var groups []rowGroup
	for r, row := range rows {
		k := key(row)
		if i, ok := index[k]; ok {
			groups[i].rows = append(groups[i].rows, r)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, rowGroup{key: k, rows: []int{r}})
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g.rows) > 1 {
			out = append(out, g)
		}
	}
	return out
}

func keyCells(row int, keys []int) []Cell {
	cells := make([]Cell, len(keys))
	for i, k := range keys {
		cells[i] = Cell{Row: row, Column: k}
	}
	return cells
}

// locRules run over localisation tables, in this order.
var locRules = []tableRule{
	{InvalidLocKey, Error, checkLocKeys},
	{EmptyRow, Error, checkLocEmptyRows},
	{EmptyKeyField, Warning, checkLocEmptyKeys},
	{InvalidEscape, Warning, checkLocEscapes},
	{DuplicatedRow, Warning, checkLocDuplicatedRows},
	{DuplicatedCombinedKeys, Error, checkLocDuplicatedKeys},
}

const (
	locKeyColumn  = 0
	locTextColumn = 1
)

func locCells(row table.Row) (key, text string) {
	return row[locKeyColumn].StringValue(), row[locTextColumn].StringValue()
}

func (c *Check) locField(col int) string { return c.Table.Definition.Fields[col].Name }

func checkLocKeys(c *Check) error {
	if c.Ignored(c.locField(locKeyColumn)) {
		return nil
	}
	for r, row := range c.Table.Rows {
		if key, _ := locCells(row); strings.ContainsAny(key, "\n\t") {
			c.Report([]Cell{{Row: r, Column: locKeyColumn}}, "Invalid localisation key %s.", strconv.Quote(key))
		}
	}
	return nil
}

func checkLocEmptyRows(c *Check) error {
	if c.Ignored(c.locField(locKeyColumn)) || c.Ignored(c.locField(locTextColumn)) {
		return nil
	}
	for r, row := range c.Table.Rows {
		if key, text := locCells(row); key == "" && text == "" {
			c.Report([]Cell{{Row: r, Column: -1}}, "Empty row.")
		}
	}
	return nil
}

func checkLocEmptyKeys(c *Check) error {
	if c.Ignored(c.locField(locKeyColumn)) {
		return nil
	}
	for r, row := range c.Table.Rows {
		if key, text := locCells(row); key == "" && text != "" {
			c.Report([]Cell{{Row: r, Column: locKeyColumn}}, "Empty key for column %q.", c.locField(locKeyColumn))
		}
	}
	return nil
}

// checkLocEscapes reports text holding raw line breaks or tabs, which the
// game expects written as \n and \t.
func checkLocEscapes(c *Check) error {
	if c.Ignored(c.locField(locTextColumn)) {
		return nil
	}
	for r, row := range c.Table.Rows {
		if _, text := locCells(row); strings.ContainsAny(text, "\n\t") {
			c.Report([]Cell{{Row: r, Column: locTextColumn}}, `Invalid line break or tab in localisation text. Use \n or \t instead.`)
		}
	}
	return nil
}

func checkLocDuplicatedRows(c *Check) error {
	if c.Ignored(c.locField(locKeyColumn)) {
		return nil
	}
	locRow := func(row table.Row) string {
		key, text := locCells(row)
		return key + table.KeySeparator + text
	}
	for _, g := range groupRows(c.Table.Rows, locRow) {
		for _, r := range g.rows {
			c.Report([]Cell{{Row: r, Column: locKeyColumn}, {Row: r, Column: locTextColumn}}, "Duplicated row: %s.", g.key)
		}
	}
	return nil
}

func checkLocDuplicatedKeys(c *Check) error {
	if c.Ignored(c.locField(locKeyColumn)) {
		return nil
	}
	locKey := func(row table.Row) string {
		key, _ := locCells(row)
		return key
	}
	for _, g := range groupRows(c.Table.Rows, locKey) {
		for _, r := range g.rows {
			c.Report([]Cell{{Row: r, Column: locKeyColumn}}, "Duplicated combined keys: %s.", g.key)
		}
	}
	return nil
}
