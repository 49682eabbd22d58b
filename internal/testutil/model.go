package testutil

import (
	"testing"

	"github.com/roach88/orq/internal/metamodel"
)

// MappingCUE is the mapping document shared by package tests.
//
// It covers every mapping shape the query core handles:
//   - Parent / Child: bidirectional one-to-many with an eager owning side
//   - Node: self-referencing eager many-to-one (Node.next)
//   - Animal / Dog / Cat: joined inheritance with a subclass-only association
//   - Vehicle / Car / Truck: table-per-class with an abstract root
//   - Shape / Circle / Square: single-table inheritance with a discriminator
//   - Person: embedded Address and a secondary table
const MappingCUE = `
namespace: "com.acme"
entities: {
	Parent: {
		table: "parent"
		id: {name: "id", column: "id", type: "integer"}
		attributes: {
			name: {column: "name", type: "string"}
			children: {kind: "one-to-many", target: "Child", mappedBy: "parent"}
		}
	}
	Child: {
		table: "child"
		id: {name: "id", column: "id", type: "integer"}
		attributes: {
			name: {column: "name", type: "string"}
			rank: {column: "rank", type: "integer"}
			parent: {kind: "many-to-one", target: "Parent", column: "parent_id", fetch: "eager"}
		}
	}
	Node: {
		table: "node"
		id: {name: "id", column: "id", type: "integer"}
		attributes: {
			name: {column: "name", type: "string"}
			next: {kind: "many-to-one", target: "Node", column: "next_id", fetch: "eager"}
		}
	}
	Person: {
		table: "person"
		id: {name: "id", column: "id", type: "integer"}
		secondaryTables: [{name: "person_detail", keyColumn: "person_id"}]
		attributes: {
			name: {column: "name", type: "string"}
			home: {kind: "embedded", target: "Address", prefix: "home_"}
			bio: {column: "bio", type: "string", table: "person_detail"}
		}
	}
	Animal: {
		table: "animal"
		inheritance: "joined"
		id: {name: "id", column: "id", type: "integer"}
		attributes: name: {column: "name", type: "string"}
	}
	Dog: {
		table: "dog"
		extends: "Animal"
		attributes: {
			barks: {column: "barks", type: "boolean"}
			owner: {kind: "many-to-one", target: "Person", column: "owner_id"}
		}
	}
	Cat: {
		table: "cat"
		extends: "Animal"
		attributes: lives: {column: "lives", type: "integer"}
	}
	Vehicle: {
		inheritance: "table-per-class"
		abstract: true
		id: {name: "id", column: "id", type: "integer"}
		attributes: model: {column: "model", type: "string"}
	}
	Car: {
		table: "car"
		extends: "Vehicle"
		attributes: doors: {column: "doors", type: "integer"}
	}
	Truck: {
		table: "truck"
		extends: "Vehicle"
		attributes: payload: {column: "payload", type: "float"}
	}
	Shape: {
		table: "shape"
		inheritance: "single-table"
		discriminator: {column: "kind", value: "shape"}
		id: {name: "id", column: "id", type: "integer"}
		attributes: label: {column: "label", type: "string"}
	}
	Circle: {
		extends: "Shape"
		discriminator: value: "circle"
		attributes: radius: {column: "radius", type: "float"}
	}
	Square: {
		extends: "Shape"
		discriminator: value: "square"
		attributes: side: {column: "side", type: "float"}
	}
}
embeddables: Address: attributes: {
	city: {column: "city", type: "string"}
	zip: {column: "zip", type: "string"}
}
`

// SchemaSQL creates the tables MappingCUE maps.
const SchemaSQL = `
CREATE TABLE parent (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE child (id INTEGER PRIMARY KEY, name TEXT, rank INTEGER, parent_id INTEGER REFERENCES parent(id));
CREATE TABLE node (id INTEGER PRIMARY KEY, name TEXT, next_id INTEGER);
CREATE TABLE person (id INTEGER PRIMARY KEY, name TEXT, home_city TEXT, home_zip TEXT);
CREATE TABLE person_detail (person_id INTEGER PRIMARY KEY REFERENCES person(id), bio TEXT);
CREATE TABLE animal (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE dog (id INTEGER PRIMARY KEY REFERENCES animal(id), barks INTEGER, owner_id INTEGER REFERENCES person(id));
CREATE TABLE cat (id INTEGER PRIMARY KEY REFERENCES animal(id), lives INTEGER);
CREATE TABLE car (id INTEGER PRIMARY KEY, model TEXT, doors INTEGER);
CREATE TABLE truck (id INTEGER PRIMARY KEY, model TEXT, payload REAL);
CREATE TABLE shape (id INTEGER PRIMARY KEY, kind TEXT NOT NULL, label TEXT, radius REAL, side REAL);
`

// SeedSQL inserts the rows used by end-to-end tests.
//
// Node rows form the chain n1 -> n2 -> n3 and a cycle c1 -> c2 -> c1.
const SeedSQL = `
INSERT INTO parent (id, name) VALUES (1, 'p1'), (2, 'p2');
INSERT INTO child (id, name, rank, parent_id) VALUES (10, 'c10', 1, 1), (11, 'c11', 2, 1), (12, 'c12', 1, 2);
INSERT INTO node (id, name, next_id) VALUES (1, 'n1', 2), (2, 'n2', 3), (3, 'n3', NULL), (4, 'c1', 5), (5, 'c2', 4);
INSERT INTO person (id, name, home_city, home_zip) VALUES (1, 'ann', 'Oslo', '0150'), (2, 'bob', NULL, NULL);
INSERT INTO person_detail (person_id, bio) VALUES (1, 'likes dogs');
INSERT INTO animal (id, name) VALUES (1, 'rex'), (2, 'tom'), (3, 'generic');
INSERT INTO dog (id, barks, owner_id) VALUES (1, 1, 1);
INSERT INTO cat (id, lives) VALUES (2, 9);
INSERT INTO car (id, model, doors) VALUES (1, 'mini', 3), (2, 'golf', 5);
INSERT INTO truck (id, model, payload) VALUES (3, 'actros', 18.5);
INSERT INTO shape (id, kind, label, radius, side) VALUES (1, 'circle', 'c', 1.5, NULL), (2, 'square', 's', NULL, 2.0), (3, 'shape', 'x', NULL, NULL);
`

// Model compiles MappingCUE, failing the test on error.
func Model(t testing.TB) *metamodel.Model {
	t.Helper()
	m, err := metamodel.CompileString(MappingCUE)
	if err != nil {
		t.Fatalf("compile fixture mapping: %v", err)
	}
	return m
}
