package linker

import "fmt"

// SymbolDatabase indexes SymbolRecords by their decorated name so the
// resolver can look a decoded NID triple straight up. A program owns two:
// one for symbols it exports, one for symbols it imports.
type SymbolDatabase struct {
	byName map[string]*SymbolRecord
}

func NewSymbolDatabase() *SymbolDatabase {
	return &SymbolDatabase{byName: make(map[string]*SymbolRecord)}
}

// GenerateName renders a SymbolKey back into the "<name>#<lib>#<mod>"
// form used both as the map key and as a diagnostic string.
func GenerateName(k SymbolKey) string {
	return fmt.Sprintf("%s#%s#%s", k.Name, k.Library, k.Module)
}

// Add registers a record for key at vaddr (vaddr may be 0 for an import
// entry that is only a placeholder until the owning module loads).
func (db *SymbolDatabase) Add(key SymbolKey, vaddr uint64) {
	name := GenerateName(key)
	db.byName[name] = &SymbolRecord{Key: key, Vaddr: vaddr, Name: name}
}

// Find looks up key, returning nil if no matching export/import exists.
func (db *SymbolDatabase) Find(key SymbolKey) *SymbolRecord {
	return db.byName[GenerateName(key)]
}

// Count reports how many records the database holds, mostly for tests.
func (db *SymbolDatabase) Count() int { return len(db.byName) }
