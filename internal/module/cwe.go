package module

// 常见缺陷分类
// https://cwe.mitre.org/

type CWEData struct {
	ID          string
	Title       string
	Description string
}

var CWEDataMap = map[string]*CWEData{
	"129": {
		"CWE-129",
		"Improper Validation of Array Index",
		"The index used to access an array can lie outside the array bounds. The access fails at run time, or on platforms without bounds checks reads or writes unrelated memory.",
	},
	"248": {
		"CWE-248",
		"Uncaught Exception",
		"A panic or throw is reachable with inputs that satisfy every branch on its path. Nothing in the method recovers from it, so it propagates to the caller.",
	},
	"369": {
		"CWE-369",
		"Divide By Zero",
		"The divisor of an integer division or remainder can be zero.",
	},
	"476": {
		"CWE-476",
		"NULL Pointer Dereference",
		"A reference that can be null is dereferenced to read or write a field or an array element, or to invoke a method.",
	},
}
