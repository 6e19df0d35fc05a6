package campus

// Role is the account role of a User.
type Role string

// Declared Role values.
const (
	RoleAdmin     Role = "Admin"
	RoleFaculty   Role = "Faculty"
	RoleCashier   Role = "Cashier"
	RoleRegistrar Role = "Registrar"
)

// RoleValues is the declared value set of Role.
func RoleValues() []string {
	return []string{string(RoleAdmin), string(RoleFaculty), string(RoleCashier), string(RoleRegistrar)}
}

// Status is the account status of a User.
type Status string

// Declared Status values.
const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// StatusValues is the declared value set of Status.
func StatusValues() []string {
	return []string{string(StatusActive), string(StatusInactive)}
}

// EmploymentStatus is the employment state of a Faculty member.
type EmploymentStatus string

// Declared EmploymentStatus values.
const (
	EmploymentHired    EmploymentStatus = "Hired"
	EmploymentResigned EmploymentStatus = "Resigned"
)

// EmploymentStatusValues is the declared value set of EmploymentStatus.
func EmploymentStatusValues() []string {
	return []string{string(EmploymentHired), string(EmploymentResigned)}
}

// SubmissionStatus is the submission state of a Document.
type SubmissionStatus string

// Declared SubmissionStatus values.
const (
	SubmissionSubmitted SubmissionStatus = "Submitted"
	SubmissionPending   SubmissionStatus = "Pending"
)

// SubmissionStatusValues is the declared value set of SubmissionStatus.
func SubmissionStatusValues() []string {
	return []string{string(SubmissionSubmitted), string(SubmissionPending)}
}

// ContractType is the employment contract type.
type ContractType string

// Declared ContractType values.
const (
	ContractFull         ContractType = "Full"
	ContractPartTime     ContractType = "PartTime"
	ContractProbationary ContractType = "Probationary"
)

// ContractTypeValues is the declared value set of ContractType.
func ContractTypeValues() []string {
	return []string{string(ContractFull), string(ContractPartTime), string(ContractProbationary)}
}

// DayOfWeek is the teaching day of a Schedule row.
type DayOfWeek string

// Declared DayOfWeek values.
const (
	Monday    DayOfWeek = "Monday"
	Tuesday   DayOfWeek = "Tuesday"
	Wednesday DayOfWeek = "Wednesday"
	Thursday  DayOfWeek = "Thursday"
	Friday    DayOfWeek = "Friday"
	Saturday  DayOfWeek = "Saturday"
	Sunday    DayOfWeek = "Sunday"
)

// DayOfWeekValues is the declared value set of DayOfWeek.
func DayOfWeekValues() []string {
	return []string{
		string(Monday), string(Tuesday), string(Wednesday), string(Thursday),
		string(Friday), string(Saturday), string(Sunday),
	}
}
