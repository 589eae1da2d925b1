package scenario

import (
	"fmt"
	"math/rand"

	"github.com/go-faker/faker/v4"

	"github.com/parkhub/sp-loadtesting/internal/runner"
)

const (
	CustomersSequential = "sequential"
	CustomersFaker      = "faker"
)

const plateAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Customer is the purchaser identity sent with one purchase.
type Customer struct {
	Name         string
	Email        string
	LicensePlate string
}

// Customers generates purchaser identities. Sequential mode derives the name
// and email from the VU and iteration so every purchase of a run is traceable.
type Customers struct {
	mode        string
	namePrefix  string
	emailPrefix string
}

func NewCustomers(mode, namePrefix, emailPrefix string) Customers {
	return Customers{mode: mode, namePrefix: namePrefix, emailPrefix: emailPrefix}
}

func (c Customers) For(it runner.Iteration) Customer {
	cust := Customer{LicensePlate: LicensePlate()}
	if c.mode == CustomersFaker {
		cust.Name = faker.Name()
		cust.Email = faker.Email()
		return cust
	}
	cust.Name = fmt.Sprintf("%s %d-%d", c.namePrefix, it.VU, it.Iter)
	cust.Email = fmt.Sprintf("%s-%d-%d@example.com", c.emailPrefix, it.VU, it.Iter)
	return cust
}

// LicensePlate returns 7 random upper-case alphanumerics.
func LicensePlate() string {
	b := make([]byte, 7)
	for i := range b {
		b[i] = plateAlphabet[rand.Intn(len(plateAlphabet))]
	}
	return string(b)
}
